package testutil

import (
	"context"
	"net/http"
	"testing"

	"github.com/TimurManjosov/contentship/internal/rules"
)

func TestNewService_SeedAndRender(t *testing.T) {
	fx := NewService(t)
	fx.SeedDefinitions(t, rules.Definition{
		ID:             "promo",
		DefaultContent: "Hello",
		Variants: []rules.Variant{{
			Content:    "rule",
			Conditions: []rules.Condition{{Type: "json_logic", Value: `{"==":[{"var":"country"},"US"]}`}},
		}},
	})

	stored, err := fx.Store.GetDefinition(context.Background(), "promo")
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if stored.Variants[0].ID == "" {
		t.Error("seeded variant did not receive an id")
	}
}

func TestNewService_SeedRejectsInvalid(t *testing.T) {
	fx := NewService(t)
	if _, err := fx.Service.Save(context.Background(), rules.Definition{ID: "bad id", Variants: []rules.Variant{}}); err == nil {
		t.Error("expected invalid id to be rejected")
	}
}

func TestHTTPRequest_Do(t *testing.T) {
	var gotType, gotHeader string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotHeader = r.Header.Get("X-Test")
		w.WriteHeader(http.StatusAccepted)
	})

	req := &HTTPRequest{Method: http.MethodPost, Path: "/x", Body: `{}`, Headers: map[string]string{"X-Test": "yes"}}
	rr := req.Do(t, handler)
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d", rr.Code)
	}
	if gotType != "application/json" || gotHeader != "yes" {
		t.Errorf("headers = %q %q", gotType, gotHeader)
	}
}
