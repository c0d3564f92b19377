package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/axone/ax-server/internal/domain/cell"
	"github.com/axone/ax-server/internal/domain/neuron"
	"github.com/axone/ax-server/internal/http/handlers"
)

// Fake repository implementation of the handlers.NeuronStore interface

type fakeNeuronsRepo struct {
	listFn   func(ctx context.Context, userID string, filter neuron.ListFilter) ([]neuron.View, error)
	countFn  func(ctx context.Context, userID string, axone *string) (int, error)
	upsertFn func(ctx context.Context, userID, cellID string, axoneID *string, dendrites []string, setDendrites bool) (neuron.Neuron, bool, error)
	getFn    func(ctx context.Context, id, userID string) (neuron.View, error)
	updateFn func(ctx context.Context, id, userID string, req neuron.UpdateRequest) (neuron.Neuron, error)
	deleteFn func(ctx context.Context, id, userID string) error
}

func (f *fakeNeuronsRepo) List(ctx context.Context, userID string, filter neuron.ListFilter) ([]neuron.View, error) {
	if f.listFn != nil {
		return f.listFn(ctx, userID, filter)
	}

	return nil, nil
}

func (f *fakeNeuronsRepo) Count(ctx context.Context, userID string, axone *string) (int, error) {
	if f.countFn != nil {
		return f.countFn(ctx, userID, axone)
	}

	return 0, nil
}

func (f *fakeNeuronsRepo) Upsert(ctx context.Context, userID, cellID string, axoneID *string, dendrites []string, setDendrites bool) (neuron.Neuron, bool, error) {
	if f.upsertFn != nil {
		return f.upsertFn(ctx, userID, cellID, axoneID, dendrites, setDendrites)
	}

	return neuron.Neuron{}, false, nil
}

func (f *fakeNeuronsRepo) GetByID(ctx context.Context, id, userID string) (neuron.View, error) {
	if f.getFn != nil {
		return f.getFn(ctx, id, userID)
	}

	return neuron.View{}, neuron.ErrNotFound
}

func (f *fakeNeuronsRepo) Update(ctx context.Context, id, userID string, req neuron.UpdateRequest) (neuron.Neuron, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, userID, req)
	}

	return neuron.Neuron{}, nil
}

func (f *fakeNeuronsRepo) Delete(ctx context.Context, id, userID string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id, userID)
	}

	return nil
}

// List neurons tests

func TestListNeuronsHandler(t *testing.T) {
	userID := newUUID()

	tests := []struct {
		name           string
		url            string
		repoSetUp      func(*fakeNeuronsRepo)
		wantStatusCode int
	}{
		{
			name: "no_filters",
			url:  "/neurons",
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.listFn = func(ctx context.Context, uid string, filter neuron.ListFilter) ([]neuron.View, error) {
					if filter.Axone != nil || filter.Cell != nil {
						return nil, errors.New("filters should be nil when absent")
					}

					return []neuron.View{{ID: newUUID(), Cell: cell.NameID{ID: newUUID(), Name: "Mitochondria"}}}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			// ?axone= with no value still counts as a filter: it selects
			// root neurons with no axone at all
			name: "empty_axone_selects_roots",
			url:  "/neurons?axone=",
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.listFn = func(ctx context.Context, uid string, filter neuron.ListFilter) ([]neuron.View, error) {
					if filter.Axone == nil || *filter.Axone != "" {
						return nil, errors.New("present-but-empty axone must reach the repo as an empty string")
					}

					return nil, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "axone_and_cell_filters",
			url:  "/neurons?axone=" + userID + "&cell=" + userID,
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.listFn = func(ctx context.Context, uid string, filter neuron.ListFilter) ([]neuron.View, error) {
					if filter.Axone == nil || *filter.Axone != userID {
						return nil, errors.New("axone filter not passed")
					}
					if filter.Cell == nil || *filter.Cell != userID {
						return nil, errors.New("cell filter not passed")
					}

					return nil, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "repo_error",
			url:  "/neurons",
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.listFn = func(ctx context.Context, uid string, filter neuron.ListFilter) ([]neuron.View, error) {
					return nil, errors.New("db error")
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeNeuronsRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewNeuronsHandler(repo, nil)

			r := setupAuthedRouter(http.MethodGet, "/neurons", userID, h.List)

			req := httptest.NewRequest(http.MethodGet, tt.url, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestCountNeuronsHandler(t *testing.T) {
	userID := newUUID()

	repo := &fakeNeuronsRepo{
		countFn: func(ctx context.Context, uid string, axone *string) (int, error) {
			if axone != nil {
				return 0, errors.New("axone should be nil when absent")
			}

			return 7, nil
		},
	}

	h := handlers.NewNeuronsHandler(repo, nil)
	r := setupAuthedRouter(http.MethodGet, "/neurons/count", userID, h.Count)

	req := httptest.NewRequest(http.MethodGet, "/neurons/count", nil)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
	}

	var resp map[string]int

	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp["count"] != 7 {
		t.Fatalf("got count %d, want 7", resp["count"])
	}
}

// Create neuron tests

func TestCreateNeuronHandler(t *testing.T) {
	userID := newUUID()
	cellID := newUUID()

	tests := []struct {
		name           string
		body           string
		repoSetUp      func(*fakeNeuronsRepo)
		wantStatusCode int
	}{
		{
			name: "inserted_201",
			body: `{"cell": "` + cellID + `"}`,
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.upsertFn = func(ctx context.Context, uid, cid string, axoneID *string, dendrites []string, setDendrites bool) (neuron.Neuron, bool, error) {
					if setDendrites {
						return neuron.Neuron{}, false, errors.New("absent dendrites must not be rewritten")
					}

					return neuron.Neuron{ID: newUUID(), UserID: uid, CellID: cid}, true, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "matched_existing_200",
			body: `{"cell": "` + cellID + `", "dendrites": []}`,
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.upsertFn = func(ctx context.Context, uid, cid string, axoneID *string, dendrites []string, setDendrites bool) (neuron.Neuron, bool, error) {
					if !setDendrites {
						return neuron.Neuron{}, false, errors.New("an explicit empty list clears the dendrites")
					}

					return neuron.Neuron{ID: newUUID(), UserID: uid, CellID: cid}, false, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:           "missing_cell",
			body:           `{"axone": "` + newUUID() + `"}`,
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "malformed_cell_id",
			body:           `{"cell": "not-a-uuid"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeNeuronsRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewNeuronsHandler(repo, nil)

			r := setupAuthedRouter(http.MethodPost, "/neurons", userID, h.Create)

			req := httptest.NewRequest(http.MethodPost, "/neurons", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestGetNeuronHandler(t *testing.T) {
	userID := newUUID()
	neuronID := newUUID()

	tests := []struct {
		name           string
		repoSetUp      func(*fakeNeuronsRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.getFn = func(ctx context.Context, id, uid string) (neuron.View, error) {
					if id != neuronID || uid != userID {
						return neuron.View{}, errors.New("wrong scoping")
					}

					return neuron.View{ID: id, Cell: cell.NameID{ID: newUUID(), Name: "Mitochondria"}}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "not_found",
			repoSetUp: func(f *fakeNeuronsRepo) {
				f.getFn = func(ctx context.Context, id, uid string) (neuron.View, error) {
					return neuron.View{}, neuron.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeNeuronsRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewNeuronsHandler(repo, nil)

			r := setupAuthedRouter(http.MethodGet, "/neurons/:id", userID, h.Get)

			req := httptest.NewRequest(http.MethodGet, "/neurons/"+neuronID, nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestUpdateNeuronHandler(t *testing.T) {
	userID := newUUID()
	neuronID := newUUID()
	axoneID := newUUID()

	t.Run("success", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			updateFn: func(ctx context.Context, id, uid string, req neuron.UpdateRequest) (neuron.Neuron, error) {
				if !req.AxoneID.Set || req.AxoneID.Value == nil || *req.AxoneID.Value != axoneID {
					return neuron.Neuron{}, errors.New("axone update not passed")
				}

				return neuron.Neuron{ID: id, UserID: uid, AxoneID: req.AxoneID.Value}, nil
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodPut, "/neurons/:id", userID, h.Update)

		body := `{"axone": "` + axoneID + `"}`
		req := httptest.NewRequest(http.MethodPut, "/neurons/"+neuronID, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("explicit_null_detaches_axone", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			updateFn: func(ctx context.Context, id, uid string, req neuron.UpdateRequest) (neuron.Neuron, error) {
				if !req.AxoneID.Set {
					return neuron.Neuron{}, errors.New("explicit null must mark the field as set")
				}
				if req.AxoneID.Value != nil {
					return neuron.Neuron{}, errors.New("explicit null must clear the value")
				}

				return neuron.Neuron{ID: id, UserID: uid}, nil
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodPut, "/neurons/:id", userID, h.Update)

		req := httptest.NewRequest(http.MethodPut, "/neurons/"+neuronID, bytes.NewBufferString(`{"axone": null}`))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("absent_axone_keeps_current", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			updateFn: func(ctx context.Context, id, uid string, req neuron.UpdateRequest) (neuron.Neuron, error) {
				if req.AxoneID.Set {
					return neuron.Neuron{}, errors.New("missing key must not touch the axone")
				}

				return neuron.Neuron{ID: id, UserID: uid}, nil
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodPut, "/neurons/:id", userID, h.Update)

		req := httptest.NewRequest(http.MethodPut, "/neurons/"+neuronID, bytes.NewBufferString(`{"dendrites": []}`))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("malformed_axone_id", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			updateFn: func(ctx context.Context, id, uid string, req neuron.UpdateRequest) (neuron.Neuron, error) {
				return neuron.Neuron{}, errors.New("repo should not be called")
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodPut, "/neurons/:id", userID, h.Update)

		req := httptest.NewRequest(http.MethodPut, "/neurons/"+neuronID, bytes.NewBufferString(`{"axone": "not-a-uuid"}`))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})

	t.Run("not_found", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			updateFn: func(ctx context.Context, id, uid string, req neuron.UpdateRequest) (neuron.Neuron, error) {
				return neuron.Neuron{}, neuron.ErrNotFound
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodPut, "/neurons/:id", userID, h.Update)

		req := httptest.NewRequest(http.MethodPut, "/neurons/"+neuronID, bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})
}

func TestDeleteNeuronHandler(t *testing.T) {
	userID := newUUID()
	neuronID := newUUID()

	t.Run("success", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			deleteFn: func(ctx context.Context, id, uid string) error {
				if id != neuronID || uid != userID {
					return errors.New("wrong scoping")
				}

				return nil
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodDelete, "/neurons/:id", userID, h.Delete)

		req := httptest.NewRequest(http.MethodDelete, "/neurons/"+neuronID, nil)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}

		var resp map[string]string

		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if resp["success"] != "success" {
			t.Fatalf("unexpected delete body: %s", w.Body.String())
		}
	})

	t.Run("not_found", func(t *testing.T) {
		repo := &fakeNeuronsRepo{
			deleteFn: func(ctx context.Context, id, uid string) error {
				return neuron.ErrNotFound
			},
		}

		h := handlers.NewNeuronsHandler(repo, nil)
		r := setupAuthedRouter(http.MethodDelete, "/neurons/:id", userID, h.Delete)

		req := httptest.NewRequest(http.MethodDelete, "/neurons/"+neuronID, nil)

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d, body=%s", w.Code, w.Body.String())
		}
	})
}
