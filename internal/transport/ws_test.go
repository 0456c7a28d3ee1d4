// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package transport

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
)

func TestOffersSubprotocolCaseInsensitiveSubstring(t *testing.T) {
	cases := []struct {
		header string
		want   bool
	}{
		{"networktables", true},
		{"NetworkTables", true},
		{"foo, networktables, bar", true},
		{"", false},
		{"something-else", false},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/nt", nil)
		r.Header.Set("Sec-WebSocket-Protocol", tc.header)
		if got := offersSubprotocol(r); got != tc.want {
			t.Errorf("offersSubprotocol(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func TestServeWSRejectsMissingSubprotocol(t *testing.T) {
	router := mux.NewRouter()
	ServeWS(router, "/nt", func(conn net.Conn) {
		t.Fatal("accept should not be called without the required subprotocol")
	})

	req := httptest.NewRequest(http.MethodGet, "/nt", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), "networktables") {
		t.Fatalf("body = %q, want mention of the required subprotocol", rec.Body.String())
	}
}
