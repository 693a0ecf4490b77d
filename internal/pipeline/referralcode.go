package pipeline

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

const (
	codeAlphabet        = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codePrefix          = "ZX"
	DefaultCodeAttempts = 5
)

// ErrCodeGenerationExhausted means every generated code collided with an existing one.
var ErrCodeGenerationExhausted = errors.New("referral code generation exhausted")

var (
	nonLetterRe = regexp.MustCompile(`[^A-Z]`)
	codeRe      = regexp.MustCompile(`^ZX-[A-Z]{3}-[0-9A-Z]{4}-[0-9A-Z]$`)
)

// CheckChar computes a Luhn mod 36 check character over the alphanumerics of base.
// Walking right to left, every second symbol is doubled and values above 35 fold to n/36 + n%36.
func CheckChar(base string) byte {
	base = strings.ToUpper(base)
	sum := 0
	double := false
	for i := len(base) - 1; i >= 0; i-- {
		n := strings.IndexByte(codeAlphabet, base[i])
		if n < 0 {
			continue
		}
		if double {
			n *= 2
			if n > 35 {
				n = n/36 + n%36
			}
		}
		sum += n
		double = !double
	}
	return codeAlphabet[sum%36]
}

func lastNamePrefix(lastName string) string {
	p := nonLetterRe.ReplaceAllString(strings.ToUpper(lastName), "")
	if len(p) > 3 {
		p = p[:3]
	}
	return p + strings.Repeat("X", 3-len(p))
}

// randomBase36 draws n symbols from rnd with rejection sampling so each symbol is uniform.
func randomBase36(rnd io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	buf := make([]byte, n*2)
	for len(out) < n {
		if _, err := io.ReadFull(rnd, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= 252 {
				continue
			}
			out = append(out, codeAlphabet[int(b)%36])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}

// GenerateCode builds ZX-<LLL>-<RRRR>-<C> from the owner's last name and four random symbols.
func GenerateCode(lastName string, rnd io.Reader) (string, error) {
	if rnd == nil {
		rnd = rand.Reader
	}
	random, err := randomBase36(rnd, 4)
	if err != nil {
		return "", err
	}
	base := fmt.Sprintf("%s-%s-%s", codePrefix, lastNamePrefix(lastName), random)
	return base + "-" + string(CheckChar(base)), nil
}

// ValidCode reports whether code is well formed and its check character matches.
func ValidCode(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !codeRe.MatchString(code) {
		return false
	}
	return CheckChar(code[:len(code)-2]) == code[len(code)-1]
}

// CodeIssuer stores freshly generated codes, retrying on collisions.
type CodeIssuer struct {
	codes    repository.ReferralRepository
	attempts int
	rnd      io.Reader
	metrics  *metrics.Metrics
}

func NewCodeIssuer(codes repository.ReferralRepository, attempts int, m *metrics.Metrics) *CodeIssuer {
	if attempts <= 0 {
		attempts = DefaultCodeAttempts
	}
	return &CodeIssuer{codes: codes, attempts: attempts, rnd: rand.Reader, metrics: m}
}

// Issue creates a new ACTIVE code for the patient.
func (i *CodeIssuer) Issue(ctx context.Context, patient *model.Patient) (*model.ReferralCode, error) {
	for attempt := 0; attempt < i.attempts; attempt++ {
		code, err := GenerateCode(model.Deref(patient.LastName), i.rnd)
		if err != nil {
			return nil, err
		}
		ref := &model.ReferralCode{Code: code, OwnerID: patient.ID, Status: model.ReferralStatusActive}
		err = i.codes.Create(ctx, ref)
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("failed to create referral code: %w", err)
		}
		if i.metrics != nil {
			i.metrics.CodeCollisions.Inc()
		}
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrCodeGenerationExhausted, i.attempts)
}

// EnsureActive returns the patient's ACTIVE code, issuing one when there is none.
// A code issued concurrently for the same patient is returned instead of a new one.
func (i *CodeIssuer) EnsureActive(ctx context.Context, patient *model.Patient) (*model.ReferralCode, bool, error) {
	existing, err := i.codes.GetActiveByOwner(ctx, patient.ID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up referral code: %w", err)
	}
	ref, err := i.Issue(ctx, patient)
	if errors.Is(err, repository.ErrActiveCodeExists) {
		existing, err = i.codes.GetActiveByOwner(ctx, patient.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to look up referral code: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return ref, true, nil
}
