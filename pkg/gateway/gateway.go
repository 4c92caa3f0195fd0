// Package gateway contains the payment provider adapters. Each adapter
// normalizes one external gateway to the payment.Provider contract and knows
// how to authenticate and parse that gateway's webhook deliveries.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rafitos77/vipgate/pkg/entitlement"
	"github.com/rafitos77/vipgate/pkg/payment"
)

const userAgent = "vipgate/1.0"

// maxResponseBody caps how much of an upstream response is read, both for
// decoding and for error snippets.
const maxResponseBody = 1 << 20

// wrapTransportErr maps transport-level failures onto the provider error
// taxonomy. Timeouts and connection errors are transient, so everything that
// never produced an upstream response becomes ErrProviderTimeout.
func wrapTransportErr(err error) error {
	return errors.Join(payment.ErrProviderTimeout, err)
}

// doJSON executes the request, treats any 4xx/5xx as an upstream rejection,
// and decodes the body into out when it is non-nil. The raw body is returned
// for audit storage.
func doJSON(client *http.Client, req *http.Request, out any) ([]byte, error) {
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, wrapTransportErr(err)
	}
	if resp.StatusCode >= 400 {
		snippet := body
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		return body, fmt.Errorf("%w: %s %s: %d: %s",
			payment.ErrProviderRejected, req.Method, req.URL.Path, resp.StatusCode, snippet)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return body, fmt.Errorf("%w: malformed response: %v", payment.ErrProviderRejected, err)
		}
	}
	return body, nil
}

// chargeReference encodes the user and plan into an upstream reference so a
// webhook can be reconciled even when the pending record was lost.
// Format: tg:<user_id>:<plan>.
func chargeReference(userID int64, plan entitlement.PlanType) string {
	return fmt.Sprintf("tg:%d:%s", userID, plan)
}

// parseChargeReference decodes a tg:<user_id>:<plan> reference. Returns ok
// false for anything else; callers fall back to the stored record.
func parseChargeReference(ref string) (userID int64, plan entitlement.PlanType, ok bool) {
	parts := strings.Split(ref, ":")
	if len(parts) != 3 || parts[0] != "tg" {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	plan = entitlement.PlanType(parts[2])
	if !plan.Purchasable() {
		return 0, "", false
	}
	return id, plan, true
}
