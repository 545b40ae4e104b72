package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/jjenkins/trialwatch/internal/model"
)

type CTGovClientSuite struct {
	suite.Suite
	server   *httptest.Server
	handler  http.HandlerFunc
	requests atomic.Int32
}

func TestCTGovClientSuite(t *testing.T) {
	suite.Run(t, new(CTGovClientSuite))
}

func (s *CTGovClientSuite) SetupTest() {
	s.requests.Store(0)
	s.handler = nil
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.handler(w, r)
	}))
}

func (s *CTGovClientSuite) TearDownTest() {
	s.server.Close()
}

func (s *CTGovClientSuite) client(retries int) *CTGovClient {
	return NewCTGovClient(ClientConfig{
		BaseURL:        s.server.URL,
		Timeout:        time.Second,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
	}, nil, nil)
}

// paginate serves total studies in pages, using the offset as the token
func paginate(total int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("pageToken"))

		end := min(offset+pageSize, total)
		studies := make([]RawStudy, 0, end-offset)
		for i := offset; i < end; i++ {
			studies = append(studies, studyDoc(fmt.Sprintf("NCT%08d", i)))
		}

		resp := map[string]any{"studies": studies}
		if end < total {
			resp["nextPageToken"] = strconv.Itoa(end)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

var breastCancer = model.Query{Condition: "breast cancer"}

func (s *CTGovClientSuite) TestPagination() {
	s.Run("follows tokens across pages in order", func() {
		s.handler = paginate(137)

		docs, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		s.Require().NoError(err)
		s.Len(docs, 137)
		s.Equal(int32(2), s.requests.Load())

		first, _ := NewNormalizer().NormalizeAll(docs[:1])
		last, _ := NewNormalizer().NormalizeAll(docs[136:])
		s.Equal("NCT00000000", first[0].ID)
		s.Equal("NCT00000136", last[0].ID)
	})

	s.Run("single page without token", func() {
		s.requests.Store(0)
		s.handler = paginate(12)

		docs, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		s.Require().NoError(err)
		s.Len(docs, 12)
		s.Equal(int32(1), s.requests.Load())
	})

	s.Run("empty result", func() {
		s.handler = paginate(0)

		docs, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		s.Require().NoError(err)
		s.Empty(docs)
	})
}

func (s *CTGovClientSuite) TestRequestParameters() {
	var got http.Header
	var params map[string][]string
	s.handler = func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		params = r.URL.Query()
		_, _ = w.Write([]byte(`{"studies": []}`))
	}

	_, err := s.client(1).FetchStudies(context.Background(), model.Query{Condition: " lupus ", Term: "belimumab"}, 50)
	s.Require().NoError(err)

	s.Equal([]string{"json"}, params["format"])
	s.Equal([]string{"lupus"}, params["query.cond"])
	s.Equal([]string{"belimumab"}, params["query.term"])
	s.Equal([]string{"50"}, params["pageSize"])
	s.NotContains(params, "pageToken")
	s.Equal("trialwatch/1.0", got.Get("User-Agent"))
}

func (s *CTGovClientSuite) TestInputValidation() {
	s.handler = paginate(1)

	_, err := s.client(1).FetchStudies(context.Background(), model.Query{Condition: "  "}, 100)
	s.ErrorIs(err, ErrEmptyQuery)

	_, err = s.client(1).FetchStudies(context.Background(), breastCancer, 0)
	s.ErrorIs(err, ErrInvalidPageSize)

	_, err = s.client(1).FetchStudies(context.Background(), breastCancer, MaxPageSize+1)
	s.ErrorIs(err, ErrInvalidPageSize)

	s.Equal(int32(0), s.requests.Load())
}

func (s *CTGovClientSuite) TestFailures() {
	s.Run("second page rejected discards first page", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("pageToken") != "" {
				http.Error(w, "backend exploded", http.StatusServiceUnavailable)
				return
			}
			paginate(200)(w, r)
		}

		docs, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		s.Require().Error(err)
		s.Nil(docs)

		var failure *FetchFailure
		s.Require().ErrorAs(err, &failure)
		s.Equal(FailureRemoteRejected, failure.Kind)
		s.Equal(2, failure.Page)
		s.Equal(http.StatusServiceUnavailable, failure.StatusCode)
		s.Contains(err.Error(), "backend exploded")
	})

	s.Run("invalid json is malformed", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"studies": [`))
		}

		_, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		kind, ok := KindOf(err)
		s.True(ok)
		s.Equal(FailureMalformedResponse, kind)
	})

	s.Run("missing studies list is malformed", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"totalCount": 3}`))
		}

		_, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		kind, _ := KindOf(err)
		s.Equal(FailureMalformedResponse, kind)
	})

	s.Run("repeated token is malformed", func() {
		s.requests.Store(0)
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"studies": [], "nextPageToken": "same"}`))
		}

		_, err := s.client(1).FetchStudies(context.Background(), breastCancer, 100)
		kind, _ := KindOf(err)
		s.Equal(FailureMalformedResponse, kind)
		s.Equal(int32(2), s.requests.Load())
	})

	s.Run("slow response times out", func() {
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}

		client := NewCTGovClient(ClientConfig{BaseURL: s.server.URL, Timeout: 20 * time.Millisecond, MaxRetries: 1}, nil, nil)
		_, err := client.FetchStudies(context.Background(), breastCancer, 100)
		kind, _ := KindOf(err)
		s.Equal(FailureTimeout, kind)
	})

	s.Run("unreachable host is a network failure", func() {
		client := NewCTGovClient(ClientConfig{BaseURL: "http://127.0.0.1:1", MaxRetries: 1}, nil, nil)
		_, err := client.FetchStudies(context.Background(), breastCancer, 100)
		kind, _ := KindOf(err)
		s.Equal(FailureNetwork, kind)
	})
}

func (s *CTGovClientSuite) TestRetry() {
	s.Run("server error is retried", func() {
		var calls atomic.Int32
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			paginate(3)(w, r)
		}

		docs, err := s.client(3).FetchStudies(context.Background(), breastCancer, 100)
		s.Require().NoError(err)
		s.Len(docs, 3)
		s.Equal(int32(2), calls.Load())
	})

	s.Run("client error is not retried", func() {
		s.requests.Store(0)
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "bad parameter", http.StatusBadRequest)
		}

		_, err := s.client(3).FetchStudies(context.Background(), breastCancer, 100)
		kind, _ := KindOf(err)
		s.Equal(FailureRemoteRejected, kind)
		s.Equal(int32(1), s.requests.Load())
	})

	s.Run("gives up after max retries", func() {
		s.requests.Store(0)
		s.handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}

		_, err := s.client(3).FetchStudies(context.Background(), breastCancer, 100)
		s.Require().Error(err)
		s.Equal(int32(3), s.requests.Load())
	})
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("loading: %w", &FetchFailure{Kind: FailureTimeout, Page: 3})
	kind, ok := KindOf(wrapped)
	if !ok || kind != FailureTimeout {
		t.Fatalf("KindOf() = %q, %v; want timeout, true", kind, ok)
	}

	if _, ok := KindOf(ErrEmptyQuery); ok {
		t.Fatal("KindOf(ErrEmptyQuery) reported a fetch failure")
	}
}
