package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
)

func TestToJID(t *testing.T) {
	cases := map[string]string{
		"5491112345678":                "5491112345678@s.whatsapp.net",
		"+54 9 11-1234-5678":           "5491112345678@s.whatsapp.net",
		"5491112345678@s.whatsapp.net": "5491112345678@s.whatsapp.net",
		"5491112345678@c.us":           "5491112345678@s.whatsapp.net",
		"120363025246125486@g.us":      "120363025246125486@g.us",
		"  5491112345678  ":            "5491112345678@s.whatsapp.net",
	}
	for in, want := range cases {
		jid, err := ToJID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, jid.String(), in)
	}
}

func TestToJID_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "abc", "12a34"} {
		_, err := ToJID(in)
		assert.Error(t, err, in)
	}
}

func TestSourceAddressDropsDevice(t *testing.T) {
	jid := types.JID{User: "5491112345678", Server: types.DefaultUserServer, Device: 3}
	assert.Equal(t, "5491112345678@s.whatsapp.net", sourceAddress(jid))
}
