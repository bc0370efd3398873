package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/ucp-shopping-agent/internal/services"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// capture logs from LoggerFrom(c)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// simulate RequestID + request-scoped logger
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})

	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, "internal_error", "kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != "internal_error" || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_Fail_404_And_SuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Next()
	})
	r.GET("/missing", func(c *gin.Context) { Fail(c, http.StatusNotFound, "not_found", "nope") })
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"n": 1}) })
	r.GET("/page", func(c *gin.Context) {
		page, perPage := clampPagination(c)
		okPage(c, []int{1, 2}, page, perPage, 21)
	})
	r.DELETE("/gone", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	var er ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if w.Code != http.StatusNotFound || er.RequestID != "rid-404" || er.Code != "not_found" || er.Message != "nope" {
		t.Fatalf("unexpected 404: %d %+v", w.Code, er)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	var okBody map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &okBody)
	data, _ := okBody["data"].(map[string]any)
	if w.Code != http.StatusCreated || data["n"] != float64(1) {
		t.Fatalf("unexpected ok body: %d %#v", w.Code, okBody)
	}
	if _, has := okBody["meta"]; has {
		t.Fatalf("meta must be omitted outside lists: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/page?page=3&per_page=5", nil))
	var pageBody struct {
		Data []int `json:"data"`
		Meta Meta  `json:"meta"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &pageBody)
	if pageBody.Meta != (Meta{Page: 3, PerPage: 5, Total: 21, TotalPages: 5}) || len(pageBody.Data) != 2 {
		t.Fatalf("unexpected page body: %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/gone", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("expected empty 204, got %d %q", w.Code, w.Body.String())
	}
}

func TestClampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query         string
		page, perPage int
	}{
		{"", 1, 10},
		{"page=0&per_page=0", 1, 1},
		{"page=-4&per_page=500", 1, 100},
		{"page=x&per_page=y", 1, 10},
		{"page=7&per_page=25", 7, 25},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		page, perPage := clampPagination(c)
		if page != tc.page || perPage != tc.perPage {
			t.Errorf("%q: got (%d,%d); want (%d,%d)", tc.query, page, perPage, tc.page, tc.perPage)
		}
	}
}

func TestFailErr_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
		msg    string
	}{
		{services.ErrCartExpired, http.StatusGone, ErrCodeCartExpired, "cart has expired"},
		{fmt.Errorf("%w: only 2 available", services.ErrInsufficientStock), http.StatusConflict, ErrCodeInsufficientStock, "insufficient stock: only 2 available"},
		{fmt.Errorf("%w: city", services.ErrMissingAddressField), http.StatusBadRequest, ErrCodeMissingAddressField, "missing required address field: city"},
		{services.ErrAlreadyComplete, http.StatusConflict, ErrCodeAlreadyComplete, "checkout session has already been completed"},
		{fmt.Errorf("%w: dial tcp 10.0.0.1:443", services.ErrOrderCreationFailed), http.StatusBadGateway, ErrCodeOrderCreationFailed, "failed to create order"},
		{services.ErrInsufficientPermission, http.StatusForbidden, ErrCodeInsufficientPermission, "insufficient permission"},
		{errors.New("disk full at /var/lib/ucp"), http.StatusInternalServerError, ErrCodeInternal, "internal error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		failErr(c, tc.err)

		var er ErrorResponse
		_ = json.Unmarshal(w.Body.Bytes(), &er)
		if w.Code != tc.status || er.Code != tc.code || er.Message != tc.msg {
			t.Errorf("%v: got %d %+v; want %d %s %q", tc.err, w.Code, er, tc.status, tc.code, tc.msg)
		}
	}
}

func TestFormatMinor(t *testing.T) {
	cases := []struct {
		v        int64
		decimals int
		want     string
	}{
		{1000, 2, "10.00"},
		{5, 2, "0.05"},
		{0, 2, "0.00"},
		{-250, 2, "-2.50"},
		{1234, 0, "1234"},
		{1234, 3, "1.234"},
	}
	for _, tc := range cases {
		if got := formatMinor(tc.v, tc.decimals); got != tc.want {
			t.Errorf("formatMinor(%d,%d) = %q; want %q", tc.v, tc.decimals, got, tc.want)
		}
	}
}

func TestFlexID_StringOrNumber(t *testing.T) {
	var req AddItemRequest
	if err := json.Unmarshal([]byte(`{"product_id": 42, "variation_id": " 7 "}`), &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.ProductID != "42" || req.VariationID != "7" {
		t.Fatalf("got %+v", req)
	}
	if err := json.Unmarshal([]byte(`{"product_id": null}`), &req); err != nil || req.ProductID != "" {
		t.Fatalf("null should clear the id: %v %+v", err, req)
	}
	if err := json.Unmarshal([]byte(`{"product_id": true}`), &req); err == nil {
		t.Fatalf("booleans must be rejected")
	}
}
