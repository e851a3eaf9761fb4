/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package webhook

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"object":"whatsapp_business_account"}`)
	header := Sign("secret", body)

	if !strings.HasPrefix(header, "sha256=") {
		t.Fatalf("Expected sha256= prefix, got %q", header)
	}
	if !VerifySignature("secret", body, header) {
		t.Error("Expected signature to verify")
	}
	if VerifySignature("other", body, header) {
		t.Error("Expected signature with wrong secret to fail")
	}
	if VerifySignature("secret", append(body, ' '), header) {
		t.Error("Expected signature over modified body to fail")
	}
	if VerifySignature("secret", body, strings.TrimPrefix(header, "sha256=")) {
		t.Error("Expected signature without prefix to fail")
	}
	if VerifySignature("secret", body, "") {
		t.Error("Expected empty header to fail")
	}
}
