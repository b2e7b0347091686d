package ingestion_test

import (
	"InsureLedger/internal/event"
	"InsureLedger/internal/ingestion"
	"InsureLedger/internal/state"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

const requestID = "550e8400-e29b-41d4-a716-446655440000"

var (
	ownerHex  = strings.Repeat("b2", 32)
	policyHex = "660e8400-e29b-41d4-a716-446655440001"
)

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
		TermFunc:  func() {},
	}
}

func TestParsePurchaseInsurance(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":      requestID,
		"owner":           ownerHex,
		"deposit_amount":  uint64(1_000),
		"premium_amount":  uint64(100),
		"coverage_amount": uint64(5_000),
	}

	raw := rawFromJSON(t, "insure.commands.purchase_insurance", payload)
	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	pi, ok := evt.(*event.PurchaseInsurance)
	if !ok {
		t.Fatalf("expected *event.PurchaseInsurance, got %T", evt)
	}
	if pi.Owner != state.MustParseIdentity(ownerHex) {
		t.Errorf("owner: got %s, want %s", pi.Owner, ownerHex)
	}
	if pi.PremiumAmount != 100 {
		t.Errorf("premium: got %d, want 100", pi.PremiumAmount)
	}
	if pi.CoverageAmount != 5_000 {
		t.Errorf("coverage: got %d, want 5_000", pi.CoverageAmount)
	}
	if pi.IdempotencyKey() != requestID {
		t.Errorf("idempotency key: got %s, want %s", pi.IdempotencyKey(), requestID)
	}
}

func TestParseLogPolicyAction(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": requestID,
		"policy_id":  policyHex,
		"user":       ownerHex,
		"action":     "canceled",
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "insure.commands.log_policy_action", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	la := evt.(*event.LogPolicyAction)
	if la.Action != state.PolicyActionCanceled {
		t.Errorf("action: got %s, want Canceled", la.Action)
	}
	if la.PolicyID.String() != policyHex {
		t.Errorf("policy id: got %s, want %s", la.PolicyID, policyHex)
	}
}

func TestParseGovernanceVote(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":  requestID,
		"voter":       ownerHex,
		"proposal_id": uint64(7),
		"vote":        true,
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, ingestion.CommandSubject(event.EventTypeSubmitGovernanceVote), payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	v := evt.(*event.SubmitGovernanceVote)
	if v.ProposalID != 7 || !v.Vote {
		t.Errorf("vote: got proposal=%d vote=%v, want 7/true", v.ProposalID, v.Vote)
	}
}

func TestParseEveryOperation(t *testing.T) {
	for _, et := range event.EventTypes() {
		body := `{"request_id":"` + requestID + `"}`
		evt, err := ingestion.ParseCommand(et.Operation(), []byte(body))
		if err != nil {
			t.Errorf("%s: %v", et, err)
			continue
		}
		if evt.EventType() != et {
			t.Errorf("%s: got type %s", et, evt.EventType())
		}
	}
}

// ============================================================================
// Test: Rejections
// ============================================================================

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		body    string
	}{
		{"unknown operation", "insure.commands.liquidate", `{"request_id":"` + requestID + `"}`},
		{"foreign subject", "other.commands.cancel_policy", `{"request_id":"` + requestID + `"}`},
		{"nested subject", "insure.commands.cancel_policy.extra", `{"request_id":"` + requestID + `"}`},
		{"missing request id", "insure.commands.cancel_policy", `{"policy_id":"` + policyHex + `"}`},
		{"unknown field", "insure.commands.cancel_policy", `{"request_id":"` + requestID + `","market":"x"}`},
		{"bad identity", "insure.commands.cancel_policy", `{"request_id":"` + requestID + `","owner":"abc"}`},
		{"bad action", "insure.commands.log_policy_action", `{"request_id":"` + requestID + `","action":"renewed"}`},
		{"missing action", "insure.commands.log_policy_action", `{"request_id":"` + requestID + `","policy_id":"` + policyHex + `"}`},
		{"null action", "insure.commands.log_policy_action", `{"request_id":"` + requestID + `","action":null}`},
		{"log action unknown field", "insure.commands.log_policy_action", `{"request_id":"` + requestID + `","action":"claimed","note":"x"}`},
		{"negative amount", "insure.commands.withdraw_premium", `{"request_id":"` + requestID + `","amount":-1}`},
		{"not json", "insure.commands.cancel_policy", `request_id=1`},
		{"trailing data", "insure.commands.cancel_policy", `{"request_id":"` + requestID + `"}{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := ingestion.RawEvent{Subject: tt.subject, Data: []byte(tt.body)}
			_, err := ingestion.ParseRawEvent(raw)
			if !errors.Is(err, state.ErrInvalidArgument) {
				t.Errorf("got %v, want ErrInvalidArgument", err)
			}
		})
	}
}
