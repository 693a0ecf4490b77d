//go:build integration

package api_test

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

type batchView struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Total    int    `json:"total"`
	Sent     int    `json:"sent"`
	Deferred int    `json:"deferred"`
	Redeemed int    `json:"redeemed"`
}

type codeView struct {
	Code       string `json:"code"`
	OwnerEmail string `json:"owner_email"`
}

type taskView struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	NewPatientEmail string `json:"new_patient_email"`
}

// waitForBatch polls until the batch leaves QUEUED and PROCESSING.
func waitForBatch(t *testing.T, token, id string) batchView {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp := makeRequest(t, http.MethodGet, "/api/v1/uploads/"+id, nil, token)
		if resp.Code != http.StatusOK {
			t.Fatalf("get batch: %d %s", resp.Code, resp.Message)
		}
		var b batchView
		resp.Decode(t, &b)
		if b.Status == "COMPLETED" || b.Status == "FAILED" {
			return b
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("batch %s did not finish", id)
	return batchView{}
}

func submit(t *testing.T, token, filename, csv string) batchView {
	t.Helper()
	resp := uploadCSV(t, token, filename, csv)
	if resp.Code != http.StatusOK && resp.Code != http.StatusAccepted {
		t.Fatalf("upload: %d %s %s", resp.Code, resp.Message, resp.Details)
	}
	var out struct {
		Batch batchView `json:"batch"`
	}
	resp.Decode(t, &out)
	return waitForBatch(t, token, out.Batch.ID)
}

func TestHealth(t *testing.T) {
	requireServer(t)
	resp := makeRequest(t, http.MethodGet, "/api/v1/health/ready", nil, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("ready: %d", resp.Code)
	}
}

func TestUploadAndRedeemFlow(t *testing.T) {
	requireServer(t)
	token := login(t)

	referrer := uniqueEmail("referrer")
	first := fmt.Sprintf("Email,First Name,Service,Start Time,Status\n%s,Ann,Yoga,2024-03-01,Completed\n", referrer)
	batch := submit(t, token, "first.csv", first)
	if batch.Status != "COMPLETED" || batch.Sent != 1 {
		t.Fatalf("first batch: %+v", batch)
	}

	resp := makeRequest(t, http.MethodGet, "/api/v1/referrals?search="+referrer, nil, token)
	var codes []codeView
	resp.Decode(t, &codes)
	if len(codes) != 1 {
		t.Fatalf("expected one code for %s, got %d", referrer, len(codes))
	}

	friend := uniqueEmail("friend")
	second := fmt.Sprintf("Email,Service,Start Time,Status,Referral Code\n%s,MRI Scan,2024-03-02,Completed,%s\n",
		friend, codes[0].Code)
	batch = submit(t, token, "second.csv", second)
	if batch.Redeemed != 1 {
		t.Fatalf("second batch: %+v", batch)
	}

	// Replaying the same file is a no-op.
	batch = submit(t, token, "second.csv", second)
	if batch.Sent != 0 || batch.Deferred != 1 {
		t.Fatalf("replayed batch: %+v", batch)
	}

	resp = makeRequest(t, http.MethodGet, "/api/v1/tasks?status=OPEN&limit=100", nil, token)
	var tasks []taskView
	resp.Decode(t, &tasks)
	var taskID string
	for _, task := range tasks {
		if task.NewPatientEmail == friend {
			taskID = task.ID
		}
	}
	if taskID == "" {
		t.Fatalf("no reward task for %s", friend)
	}

	resp = makeRequest(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/complete", nil, token)
	if resp.Code != http.StatusOK {
		t.Fatalf("complete task: %d %s", resp.Code, resp.Message)
	}
	resp = makeRequest(t, http.MethodPost, "/api/v1/tasks/"+taskID+"/complete", nil, token)
	if resp.Code != http.StatusConflict {
		t.Fatalf("completing twice: expected 409, got %d", resp.Code)
	}
}

func TestUploadRejectsInvalidRows(t *testing.T) {
	requireServer(t)
	token := login(t)

	resp := uploadCSV(t, token, "bad.csv", "Email,Service,Start Time\nnot-an-email,Yoga,2024-03-01\n")
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}
