package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"sumarte/internal/api"
	"sumarte/internal/core"
)

func signedAccess(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp":      exp.Unix(),
		"user_id":  8,
		"username": "ana",
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func newBackend(t *testing.T, h http.Handler) *Backend {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	b, err := New(srv.URL, 5*time.Second, nil)
	require.NoError(t, err)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("not a url", time.Second, nil)
	assert.Error(t, err)
}

func TestLoginSetsExpiryFromToken(t *testing.T) {
	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	access := signedAccess(t, exp)

	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/token/", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": "r1"})
	}))

	tok, err := b.Login(context.Background(), "ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, access, tok.AccessToken)
	assert.Equal(t, "r1", tok.RefreshToken)
	assert.True(t, tok.Expiry.Equal(exp))

	_, err = b.Login(context.Background(), "ana", "wrong")
	var be *api.BusinessError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "invalid username or password", be.Message)
}

func TestRefreshThenReplayOn401(t *testing.T) {
	var projectCalls, refreshCalls atomic.Int32
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token/refresh/":
			refreshCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]string{"access": "fresh"})
		case "/api/proyectos/":
			projectCalls.Add(1)
			if r.Header.Get("Authorization") != "Bearer fresh" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "token expired"})
				return
			}
			writeJSON(w, http.StatusOK, []map[string]any{{"id": 1, "nombre_proyecto": "Festival", "estado_proyecto": "activo"}})
		}
	}))

	var refreshed *oauth2.Token
	client := b.ClientFor(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1"}, func(tok *oauth2.Token) { refreshed = tok })

	projects, err := client.ListProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, core.ProjectActive, projects[0].Status)
	assert.Equal(t, int32(2), projectCalls.Load(), "original request plus one replay")
	assert.Equal(t, int32(1), refreshCalls.Load())
	require.NotNil(t, refreshed)
	assert.Equal(t, "fresh", refreshed.AccessToken)
	assert.Equal(t, "r1", refreshed.RefreshToken, "refresh token kept when not rotated")
	assert.Equal(t, "fresh", client.(*Client).Token().AccessToken)
}

func TestSecond401ExpiresSession(t *testing.T) {
	var calls atomic.Int32
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "fresh"})
			return
		}
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "nope"})
	}))

	client := b.ClientFor(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1"}, nil)
	_, err := client.GetProject(context.Background(), 1)
	assert.ErrorIs(t, err, api.ErrSessionExpired)
	assert.Equal(t, int32(2), calls.Load(), "no retries beyond the single replay")
}

func TestFailedRefreshExpiresSession(t *testing.T) {
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired"})
	}))
	client := b.ClientFor(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1"}, nil)
	_, err := client.ListProjects(context.Background())
	assert.ErrorIs(t, err, api.ErrSessionExpired)

	noRefresh := b.ClientFor(&oauth2.Token{AccessToken: "stale"}, nil)
	_, err = noRefresh.ListProjects(context.Background())
	assert.ErrorIs(t, err, api.ErrSessionExpired)
}

func TestExpiredAccessRefreshesFirst(t *testing.T) {
	var sawStale atomic.Bool
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "fresh", "refresh": "r2"})
			return
		}
		if r.Header.Get("Authorization") == "Bearer stale" {
			sawStale.Store(true)
		}
		writeJSON(w, http.StatusOK, []any{})
	}))

	client := b.ClientFor(&oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)}, nil)
	_, err := client.ListProjects(context.Background())
	require.NoError(t, err)
	assert.False(t, sawStale.Load())
	assert.Equal(t, "r2", client.(*Client).Token().RefreshToken)
}

func TestErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"field errors", 400, `{"nro_documento":["Este campo es requerido."],"monto_transaccion":["Debe ser positivo."]}`, func(t *testing.T, err error) {
			var ve *api.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "Este campo es requerido.", ve.First("nro_documento"))
		}},
		{"non field errors", 400, `{"non_field_errors":["Ya existe una transacción con el mismo proveedor y número de documento."]}`, func(t *testing.T, err error) {
			var ve *api.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "Ya existe una transacción con el mismo proveedor y número de documento.", ve.Error())
		}},
		{"error key verbatim", 400, `{"error":"cannot close: outstanding pending transactions"}`, func(t *testing.T, err error) {
			assert.Equal(t, "cannot close: outstanding pending transactions", api.UserMessage(err))
		}},
		{"detail key", 403, `{"detail":"No tiene permiso para realizar esta acción."}`, func(t *testing.T, err error) {
			var be *api.BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, 403, be.Status)
			assert.Equal(t, "No tiene permiso para realizar esta acción.", be.Message)
		}},
		{"not found", 404, `{"error":"Proyecto no encontrado."}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, api.ErrNotFound)
		}},
		{"html 500", 500, `<html>oops</html>`, func(t *testing.T, err error) {
			var be *api.BusinessError
			require.ErrorAs(t, err, &be)
			assert.Equal(t, "Internal Server Error", be.Message)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = io.WriteString(w, tc.body)
			}))
			client := b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil)
			_, err := client.GetProject(context.Background(), 1)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	b, err := New(url, time.Second, nil)
	require.NoError(t, err)
	_, err = b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil).ListProjects(context.Background())

	var ne *api.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, api.MsgNetwork, api.UserMessage(err))
}

func TestListFollowsPagination(t *testing.T) {
	var srvURL string
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, map[string]any{"count": 3, "next": nil, "results": []map[string]any{{"id": 3}}})
			return
		}
		assert.Equal(t, "5", r.URL.Query().Get("proyecto"))
		writeJSON(w, http.StatusOK, map[string]any{
			"count": 3, "next": srvURL + "/api/items-presupuestarios/?page=2&proyecto=5",
			"results": []map[string]any{{"id": 1}, {"id": 2}},
		})
	}))
	srvURL = b.baseURL.String()

	items, err := b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil).ListItems(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(3), *items[2].ID)
}

func TestListRefusesForeignPageLink(t *testing.T) {
	var foreignHits atomic.Int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits.Add(1)
		writeJSON(w, http.StatusOK, []any{})
	}))
	t.Cleanup(foreign.Close)

	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"count": 2, "next": foreign.URL + "/api/items-presupuestarios/?page=2",
			"results": []map[string]any{{"id": 1}},
		})
	}))

	_, err := b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil).ListItems(context.Background(), 5)
	require.ErrorIs(t, err, ErrForeignLink)
	assert.Zero(t, foreignHits.Load(), "the token must not reach another host")
}

func TestTransactionCalls(t *testing.T) {
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/transacciones/":
			assert.Equal(t, "3", r.URL.Query().Get("proyecto"))
			assert.Equal(t, "pendiente", r.URL.Query().Get("estado_transaccion"))
			writeJSON(w, http.StatusOK, []any{})
		case r.URL.Path == "/api/transacciones/9/reject/":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "missing invoice", body["motivo"])
			writeJSON(w, http.StatusOK, map[string]any{"message": "ok", "data": map[string]any{"id": 9, "estado_transaccion": "rechazado"}})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/transacciones/9/":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	client := b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil)
	ctx := context.Background()

	txs, err := client.ListTransactions(ctx, api.TransactionQuery{ProjectID: 3, Status: core.Pending})
	require.NoError(t, err)
	assert.NotNil(t, txs)

	tx, err := client.RejectTransaction(ctx, 9, "missing invoice")
	require.NoError(t, err)
	assert.Equal(t, core.Rejected, tx.Status)

	require.NoError(t, client.DeleteTransaction(ctx, 9))
}

func TestUploadEvidenceMultipart(t *testing.T) {
	var calls atomic.Int32
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/token/refresh/" {
			writeJSON(w, http.StatusOK, map[string]string{"access": "fresh"})
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "4", r.FormValue("proyecto"))
		assert.Equal(t, "Factura marzo", r.FormValue("nombre_evidencia"))
		f, hdr, err := r.FormFile("archivo_evidencia")
		require.NoError(t, err)
		defer f.Close()
		content, _ := io.ReadAll(f)
		assert.Equal(t, "factura.pdf", hdr.Filename)
		assert.Equal(t, "%PDF-1.4", string(content))
		writeJSON(w, http.StatusCreated, map[string]any{"id": 12, "nombre_evidencia": "Factura marzo", "version": 1})
	}))
	client := b.ClientFor(&oauth2.Token{AccessToken: "stale", RefreshToken: "r"}, nil)

	ev, err := client.UploadEvidence(context.Background(), api.EvidenceUpload{
		ProjectID: 4, Name: "Factura marzo", Filename: "factura.pdf", Size: 8, Content: strings.NewReader("%PDF-1.4"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), ev.ID)
	assert.Equal(t, int32(2), calls.Load(), "multipart body replayed after refresh")

	_, err = client.UploadEvidence(context.Background(), api.EvidenceUpload{ProjectID: 4, Filename: "virus.exe", Size: 1, Content: strings.NewReader("x")})
	var ve *api.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, int32(2), calls.Load(), "rejected locally")
}

func TestDownloadReport(t *testing.T) {
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/proyectos/4/reportes/estado-pdf/":
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Disposition", `attachment; filename="estado_4.pdf"`)
			_, _ = io.WriteString(w, "%PDF")
		case "/api/proyectos/4/reportes/estado-excel/":
			_, _ = io.WriteString(w, "PK")
		default:
			http.NotFound(w, r)
		}
	}))
	client := b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil)
	ctx := context.Background()

	rep, err := client.DownloadReport(ctx, 4, api.ReportStatusPDF)
	require.NoError(t, err)
	assert.Equal(t, "estado_4.pdf", rep.Filename)
	assert.Equal(t, "application/pdf", rep.ContentType)
	assert.Equal(t, []byte("%PDF"), rep.Body)

	rep, err = client.DownloadReport(ctx, 4, api.ReportStatusExcel)
	require.NoError(t, err)
	assert.Equal(t, "reporte-4-estado-excel.xlsx", rep.Filename)

	_, err = client.DownloadReport(ctx, 4, api.ReportKind("zip"))
	assert.Error(t, err)
}

func TestCheckRUT(t *testing.T) {
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "12345678-5", r.URL.Query().Get("rut"))
		writeJSON(w, http.StatusOK, map[string]bool{"disponible": true})
	}))
	ok, err := b.CheckRUT(context.Background(), "12.345.678-5")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = b.CheckRUT(context.Background(), "12.345.678-0")
	var ve *api.ValidationError
	assert.True(t, errors.As(err, &ve), fmt.Sprintf("got %v", err))
}

func TestPreClosingReport(t *testing.T) {
	b := newBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"valido": false, "errores": []string{"2 pending transactions"}, "advertencias": []string{},
		})
	}))
	r, err := b.ClientFor(&oauth2.Token{AccessToken: "a"}, nil).PreClosingReport(context.Background(), 4)
	require.NoError(t, err)
	gate := core.CloseGate{Report: r, Confirmed: true}
	assert.False(t, gate.CanConfirm())
	assert.False(t, gate.CanClose())
}
