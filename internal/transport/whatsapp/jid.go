package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"

	"wagate/internal/address"
)

// ToJID turns a destination in any stored form into a chat JID. Bare numbers are
// addressed to a user; "+", spaces and dashes are dropped.
func ToJID(dest string) (types.JID, error) {
	dest = strings.TrimSpace(dest)
	if strings.HasSuffix(dest, address.GroupSuffix) {
		return types.ParseJID(dest)
	}
	bare := address.Normalize(dest)
	if strings.Contains(bare, "@") {
		return types.ParseJID(bare)
	}
	bare = strings.NewReplacer("+", "", " ", "", "-", "").Replace(bare)
	if bare == "" {
		return types.JID{}, fmt.Errorf("whatsapp: empty destination")
	}
	for _, r := range bare {
		if r < '0' || r > '9' {
			return types.JID{}, fmt.Errorf("whatsapp: invalid destination %q", dest)
		}
	}
	return types.NewJID(bare, types.DefaultUserServer), nil
}

// sourceAddress renders the chat of an event the way the store keeps addresses.
func sourceAddress(chat types.JID) string {
	return chat.ToNonAD().String()
}
