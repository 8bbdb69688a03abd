package clinical

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechain/internal/config"
	"carechain/pkg/domain"
)

func fhirHandler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient/p1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/fhir+json", r.Header.Get("Accept"))
		fmt.Fprint(w, `{"gender":"female","birthDate":"1961-03-15"}`)
	})
	mux.HandleFunc("/Condition", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "p1", r.URL.Query().Get("patient"))
		assert.Equal(t, "active", r.URL.Query().Get("clinical-status"))
		fmt.Fprint(w, `{"entry":[
			{"resource":{"code":{"coding":[{"code":"I10","display":"Essential hypertension"}]},"clinicalStatus":{"coding":[{"code":"active"}]},"recordedDate":"2023-05-01"}},
			{"resource":{"code":"malformed"}}
		]}`)
	})
	mux.HandleFunc("/Observation", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"entry":[
			{"resource":{"code":{"text":"HbA1c"},"valueQuantity":{"value":7.9,"unit":"%"},"effectiveDateTime":"2025-05-20T08:00:00Z"}}
		]}`)
	})
	mux.HandleFunc("/MedicationRequest", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		fmt.Fprint(w, `{"entry":[
			{"resource":{"medicationCodeableConcept":{"text":"Metformin"},"dosageInstruction":[{"text":"500 mg twice daily"}]}}
		]}`)
	})
	return mux
}

func newSource(t *testing.T, baseURL string) *FHIRSource {
	t.Helper()
	return NewFHIRSource(config.Clinical{BaseURL: baseURL, Timeout: 2 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(fhirHandler(t))
	defer srv.Close()

	snapshot, err := newSource(t, srv.URL).FetchSnapshot(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", snapshot.SubjectID)
	assert.Equal(t, "female", snapshot.Demographics.Gender)
	assert.Positive(t, snapshot.Demographics.Age)

	// The malformed condition entry is skipped, not fatal.
	require.Len(t, snapshot.Conditions, 1)
	assert.Equal(t, "I10", snapshot.Conditions[0].Code)
	assert.Equal(t, "Essential hypertension", snapshot.Conditions[0].Display)
	assert.Equal(t, "active", snapshot.Conditions[0].ClinicalSts)

	require.Len(t, snapshot.Observations, 1)
	assert.Equal(t, "HbA1c", snapshot.Observations[0].Display)
	assert.Equal(t, "7.9", snapshot.Observations[0].Value)
	assert.Equal(t, "%", snapshot.Observations[0].Unit)

	require.Len(t, snapshot.Medications, 1)
	assert.Equal(t, "Metformin", snapshot.Medications[0].Display)
	assert.Equal(t, "500 mg twice daily", snapshot.Medications[0].Dosage)
}

func TestFetchSnapshotPatientMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newSource(t, srv.URL).FetchSnapshot(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestFetchSnapshotServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newSource(t, srv.URL).FetchSnapshot(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Kind(err))
	assert.True(t, domain.Retryable(err))
}

func TestFetchSnapshotMalformedBodyIsStructural(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not fhir</html>")
	}))
	defer srv.Close()

	_, err := newSource(t, srv.URL).FetchSnapshot(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, domain.KindStructural, domain.Kind(err))
}

func TestFetchSnapshotUnreachableIsTransient(t *testing.T) {
	src := newSource(t, "http://127.0.0.1:1")
	_, err := src.FetchSnapshot(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Kind(err))
}

func TestAgeAt(t *testing.T) {
	birth := time.Date(1961, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 64, ageAt(birth, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 63, ageAt(birth, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, ageAt(time.Now().Add(24*time.Hour), time.Now()))
}

func TestConditionQueryShape(t *testing.T) {
	// Guard the exact search the source issues.
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/Patient/") {
			fmt.Fprint(w, `{"gender":"other"}`)
			return
		}
		fmt.Fprint(w, `{"entry":[]}`)
	}))
	defer srv.Close()

	_, err := newSource(t, srv.URL).FetchSnapshot(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/Patient/p1", "/Condition", "/Observation", "/MedicationRequest"}, paths)
}
