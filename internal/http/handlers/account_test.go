package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/axone/ax-server/internal/domain/user"
	"github.com/axone/ax-server/internal/http/handlers"
	"github.com/axone/ax-server/internal/http/middlewares"
	"github.com/axone/ax-server/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Make sure Gin does not spam the console during the test

func init() {
	gin.SetMode(gin.TestMode)
}

func newUUID() string {
	return uuid.NewString()
}

// small helper function which returns the gin engine to mount one handler per test

func setupRouter(method, path string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Handle(method, path, h)

	return r
}

// setupAuthedRouter mounts the handler behind a stub that injects the
// authenticated user id, the way RequireAuth would.

func setupAuthedRouter(method, path, userID string, h gin.HandlerFunc) *gin.Engine {
	r := gin.New()

	r.Handle(method, path, func(c *gin.Context) {
		if userID != "" {
			c.Set(middlewares.CtxUserID, userID)
		}
		c.Next()
	}, h)

	return r
}

// Fake repository implementation of the handlers.UserStore interface

type fakeUsersRepo struct {
	createFn     func(ctx context.Context, email, passwordHash, name string) (user.User, error)
	getByEmailFn func(ctx context.Context, email string) (user.User, error)
	getByIDFn    func(ctx context.Context, id string) (user.User, error)
	updateFn     func(ctx context.Context, id string, req user.UpdateRequest, newHash *string) (user.User, error)
}

func (f *fakeUsersRepo) Create(ctx context.Context, email, passwordHash, name string) (user.User, error) {
	if f.createFn != nil {
		return f.createFn(ctx, email, passwordHash, name)
	}

	return user.User{}, nil
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	if f.getByEmailFn != nil {
		return f.getByEmailFn(ctx, email)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	if f.getByIDFn != nil {
		return f.getByIDFn(ctx, id)
	}

	return user.User{}, user.ErrNotFound
}

func (f *fakeUsersRepo) Update(ctx context.Context, id string, req user.UpdateRequest, newHash *string) (user.User, error) {
	if f.updateFn != nil {
		return f.updateFn(ctx, id, req, newHash)
	}

	return user.User{}, nil
}

type fakeTokenIssuer struct {
	generateFn func(userID string) (string, error)
}

func (f *fakeTokenIssuer) GenerateToken(userID string) (string, error) {
	if f.generateFn != nil {
		return f.generateFn(userID)
	}

	return "test-token", nil
}

// SignUp tests

func TestSignUpHandler(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"email": "mia@example.com", "password": "hunter2hunter2", "name": "Mia"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, email, passwordHash, name string) (user.User, error) {
					if passwordHash == "hunter2hunter2" {
						return user.User{}, errors.New("password stored in the clear")
					}

					return user.User{ID: newUUID(), Email: email, Name: name}, nil
				}
			},
			wantStatusCode: http.StatusCreated,
		},
		{
			name: "email_taken",
			body: `{"email": "mia@example.com", "password": "hunter2hunter2", "name": "Mia"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, email, passwordHash, name string) (user.User, error) {
					return user.User{}, user.ErrEmailAlreadyUsed
				}
			},
			wantStatusCode: http.StatusConflict,
		},
		{
			name: "validation_error_short_password",
			body: `{"email": "mia@example.com", "password": "short", "name": "Mia"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.createFn = func(ctx context.Context, email, passwordHash, name string) (user.User, error) {
					return user.User{}, errors.New("repo should not be called")
				}
			},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "validation_error_bad_email",
			body:           `{"email": "not-an-email", "password": "hunter2hunter2", "name": "Mia"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewAccountHandler(repo, &fakeTokenIssuer{})

			r := setupRouter(http.MethodPost, "/account/signup", h.SignUp)

			req := httptest.NewRequest(http.MethodPost, "/account/signup", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}

			if tt.wantStatusCode == http.StatusCreated {
				var resp map[string]string

				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}

				if resp["token"] == "" {
					t.Fatalf("expected a token in the response, got %s", w.Body.String())
				}
			}
		})
	}
}

// Login tests

func TestLoginHandler(t *testing.T) {
	hash, err := security.HashPassword("hunter2hunter2")

	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}

	knownUser := user.User{
		ID:           newUUID(),
		Email:        "mia@example.com",
		PasswordHash: hash,
		Name:         "Mia",
	}

	tests := []struct {
		name           string
		body           string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name: "success",
			body: `{"email": "mia@example.com", "password": "hunter2hunter2"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return knownUser, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name: "wrong_password",
			body: `{"email": "mia@example.com", "password": "not-the-password"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return knownUser, nil
				}
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name: "unknown_email",
			body: `{"email": "ghost@example.com", "password": "hunter2hunter2"}`,
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByEmailFn = func(ctx context.Context, email string) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatusCode: http.StatusUnauthorized,
		},
		{
			name:           "validation_error",
			body:           `{"email": "mia@example.com"}`,
			wantStatusCode: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewAccountHandler(repo, &fakeTokenIssuer{})

			r := setupRouter(http.MethodPost, "/account/login", h.Login)

			req := httptest.NewRequest(http.MethodPost, "/account/login", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

// Profile tests

func TestGetAccountHandler(t *testing.T) {
	userID := newUUID()
	now := time.Now().UTC()

	tests := []struct {
		name           string
		userID         string
		repoSetUp      func(*fakeUsersRepo)
		wantStatusCode int
	}{
		{
			name:   "success",
			userID: userID,
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByIDFn = func(ctx context.Context, id string) (user.User, error) {
					if id != userID {
						return user.User{}, errors.New("wrong user id passed to repo")
					}

					return user.User{ID: id, Email: "mia@example.com", Name: "Mia", CreatedAt: now, UpdatedAt: now}, nil
				}
			},
			wantStatusCode: http.StatusOK,
		},
		{
			name:   "not_found",
			userID: userID,
			repoSetUp: func(f *fakeUsersRepo) {
				f.getByIDFn = func(ctx context.Context, id string) (user.User, error) {
					return user.User{}, user.ErrNotFound
				}
			},
			wantStatusCode: http.StatusNotFound,
		},
		{
			name:           "missing_auth_context",
			userID:         "",
			wantStatusCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeUsersRepo{}

			if tt.repoSetUp != nil {
				tt.repoSetUp(repo)
			}

			h := handlers.NewAccountHandler(repo, &fakeTokenIssuer{})

			r := setupAuthedRouter(http.MethodGet, "/account", tt.userID, h.Get)

			req := httptest.NewRequest(http.MethodGet, "/account", nil)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatusCode {
				t.Fatalf("got status %d, want %d, body=%s", w.Code, tt.wantStatusCode, w.Body.String())
			}
		})
	}
}

func TestUpdateAccountHandler(t *testing.T) {
	userID := newUUID()

	t.Run("password_change_is_rehashed", func(t *testing.T) {
		var gotHash *string

		repo := &fakeUsersRepo{
			updateFn: func(ctx context.Context, id string, req user.UpdateRequest, newHash *string) (user.User, error) {
				gotHash = newHash
				return user.User{ID: id}, nil
			},
		}

		h := handlers.NewAccountHandler(repo, &fakeTokenIssuer{})
		r := setupAuthedRouter(http.MethodPut, "/account", userID, h.Update)

		body := `{"name": "Mia", "password": "a-brand-new-pass"}`
		req := httptest.NewRequest(http.MethodPut, "/account", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}

		if gotHash == nil {
			t.Fatal("expected a new password hash to reach the repo")
		}

		if *gotHash == "a-brand-new-pass" {
			t.Fatal("password reached the repo without being hashed")
		}

		if err := security.CheckPassword(*gotHash, "a-brand-new-pass"); err != nil {
			t.Fatalf("new hash does not verify against the new password: %v", err)
		}
	})

	t.Run("no_password_leaves_hash_untouched", func(t *testing.T) {
		repo := &fakeUsersRepo{
			updateFn: func(ctx context.Context, id string, req user.UpdateRequest, newHash *string) (user.User, error) {
				if newHash != nil {
					return user.User{}, errors.New("hash should stay nil when password is absent")
				}
				return user.User{ID: id}, nil
			},
		}

		h := handlers.NewAccountHandler(repo, &fakeTokenIssuer{})
		r := setupAuthedRouter(http.MethodPut, "/account", userID, h.Update)

		body := `{"name": "Mia"}`
		req := httptest.NewRequest(http.MethodPut, "/account", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
		}
	})

	t.Run("not_found", func(t *testing.T) {
		repo := &fakeUsersRepo{
			updateFn: func(ctx context.Context, id string, req user.UpdateRequest, newHash *string) (user.User, error) {
				return user.User{}, user.ErrNotFound
			},
		}

		h := handlers.NewAccountHandler(repo, &fakeTokenIssuer{})
		r := setupAuthedRouter(http.MethodPut, "/account", userID, h.Update)

		req := httptest.NewRequest(http.MethodPut, "/account", bytes.NewBufferString(`{"name": "Mia"}`))
		req.Header.Set("Content-Type", "application/json")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusNotFound {
			t.Fatalf("got status %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
		}
	})
}
