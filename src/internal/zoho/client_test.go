package zoho

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *Client {
	c := NewClient(baseURL, "test-token", nil)
	c.ExportPollInterval = time.Millisecond
	c.WritePollInterval = time.Millisecond
	return c
}

func jobEnvelope(id string) string {
	return fmt.Sprintf(`{"data":[{"status":"ADDED","details":{"id":"%s"}}]}`, id)
}

func statusEnvelope(status, downloadURL string) string {
	return fmt.Sprintf(`{"data":[{"status":"%s","download_url":"%s"}]}`, status, downloadURL)
}

func TestStartExport(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/crm/bulk/v8/backup", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, jobEnvelope("exp-1"))
	}))
	defer srv.Close()

	id, err := newTestClient(srv.URL).StartExport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exp-1", id)
	assert.Equal(t, "Zoho-oauthtoken test-token", gotAuth)
}

func TestWaitForExport(t *testing.T) {
	t.Run("CompletesAfterPolling", func(t *testing.T) {
		var polls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := atomic.AddInt32(&polls, 1)
			if n < 3 {
				fmt.Fprint(w, statusEnvelope("IN_PROGRESS", ""))
				return
			}
			fmt.Fprint(w, statusEnvelope("COMPLETED", "https://dl.example.com/a.zip"))
		}))
		defer srv.Close()

		url, err := newTestClient(srv.URL).WaitForExport(context.Background(), "exp-1")
		require.NoError(t, err)
		assert.Equal(t, "https://dl.example.com/a.zip", url)
		assert.Equal(t, int32(3), atomic.LoadInt32(&polls))
	})

	t.Run("TimesOutAtAttemptBound", func(t *testing.T) {
		var polls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&polls, 1)
			fmt.Fprint(w, statusEnvelope("IN_PROGRESS", ""))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.ExportPollAttempts = 4

		_, err := c.WaitForExport(context.Background(), "exp-1")
		var timeout *RemoteTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, 4, timeout.Attempts)
		assert.Equal(t, int32(4), atomic.LoadInt32(&polls))
	})

	t.Run("RemoteFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, statusEnvelope("FAILED", ""))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).WaitForExport(context.Background(), "exp-1")
		var failure *RemoteFailureError
		assert.ErrorAs(t, err, &failure)
	})

	t.Run("CancellationStopsPolling", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, statusEnvelope("IN_PROGRESS", ""))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.ExportPollInterval = 50 * time.Millisecond

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		_, err := c.WaitForExport(ctx, "exp-1")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDownloadExport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "zip-bytes")
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "backup_1.zip")
	err := newTestClient(srv.URL).DownloadExport(context.Background(), srv.URL+"/dl", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes", string(data))
}

func TestUploadCSV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/bulk/v8/write/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "Leads.csv", header.Filename)

		fmt.Fprint(w, `{"data":[{"details":{"file_id":"file-9"}}]}`)
	}))
	defer srv.Close()

	fileID, err := newTestClient(srv.URL).UploadCSV(context.Background(), []byte("Email\na@b.c\n"), "Leads.csv")
	require.NoError(t, err)
	assert.Equal(t, "file-9", fileID)
}

func TestStartBulkWrite(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/bulk/v8/write", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, jobEnvelope("write-5"))
	}))
	defer srv.Close()

	mappings := []FieldMapping{{APIName: "Email", Index: 0}}
	id, err := newTestClient(srv.URL).StartBulkWrite(context.Background(),
		"Leads", "file-9", mappings, OperationUpsert, "Email")
	require.NoError(t, err)
	assert.Equal(t, "write-5", id)

	assert.Equal(t, "upsert", body["operation"])
	resources := body["resource"].([]interface{})
	resource := resources[0].(map[string]interface{})
	assert.Equal(t, "file-9", resource["file_id"])
	assert.Equal(t, "Email", resource["find_by"])
	module := resource["module"].(map[string]interface{})
	assert.Equal(t, "Leads", module["api_name"])
}

func TestStartBulkWriteInsertOmitsFindBy(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, jobEnvelope("write-6"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).StartBulkWrite(context.Background(),
		"Notes", "file-1", nil, OperationInsert, "")
	require.NoError(t, err)

	resource := body["resource"].([]interface{})[0].(map[string]interface{})
	_, present := resource["find_by"]
	assert.False(t, present)
}

func TestWaitForBulkWrite(t *testing.T) {
	t.Run("TimesOutAtAttemptBound", func(t *testing.T) {
		var polls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&polls, 1)
			fmt.Fprint(w, statusEnvelope("IN_PROGRESS", ""))
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.WritePollAttempts = 3

		err := c.WaitForBulkWrite(context.Background(), "write-5")
		var timeout *RemoteTimeoutError
		require.ErrorAs(t, err, &timeout)
		assert.Equal(t, "bulk write", timeout.Operation)
		assert.Equal(t, int32(3), atomic.LoadInt32(&polls))
	})

	t.Run("Completes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, statusEnvelope("COMPLETED", ""))
		}))
		defer srv.Close()

		assert.NoError(t, newTestClient(srv.URL).WaitForBulkWrite(context.Background(), "write-5"))
	})
}

func TestResolveOrg(t *testing.T) {
	t.Run("OverrideWinsWithoutHTTP", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.ResolveOrg(context.Background(), "org-override")
		assert.Equal(t, "org-override", c.orgID)
		assert.Zero(t, atomic.LoadInt32(&calls))
	})

	t.Run("FetchesFromOrgEndpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/crm/v8/org", r.URL.Path)
			fmt.Fprint(w, `{"org":[{"zgid":"12345"}]}`)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.ResolveOrg(context.Background(), "")
		assert.Equal(t, "12345", c.orgID)
	})

	t.Run("FailureIsNonFatal", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		c := newTestClient(srv.URL)
		c.ResolveOrg(context.Background(), "")
		assert.Empty(t, c.orgID)
	})
}

func TestOrgHeaderAttachedWhenResolved(t *testing.T) {
	var gotOrg string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotOrg = r.Header.Get("X-CRM-ORG")
		fmt.Fprint(w, jobEnvelope("exp-1"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.ResolveOrg(context.Background(), "org-7")
	_, err := c.StartExport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "org-7", gotOrg)
}

func TestListModules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/crm/v2/settings/modules", r.URL.Path)
		fmt.Fprint(w, `{"modules":[
			{"api_name":"Leads","plural_label":"Leads","generated_type":"default"},
			{"api_name":"CustomModule1","plural_label":"Widgets","generated_type":""}
		]}`)
	}))
	defer srv.Close()

	modules, err := newTestClient(srv.URL).ListModules(context.Background())
	require.NoError(t, err)
	require.Len(t, modules, 2)
	assert.False(t, modules[0].IsCustom)
	assert.True(t, modules[1].IsCustom)
}

func TestRemoteErrorPrefersStructuredMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"data":[{"status":"error","message":"INVALID_DATA"}]}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).StartExport(context.Background())
	var failure *RemoteFailureError
	require.ErrorAs(t, err, &failure)
	assert.Contains(t, failure.Message, "INVALID_DATA")
}
