package probe

// TLS record header constants for the payload sniff.
const (
	tlsRecordHandshake      = 0x16
	tlsRecordAppData        = 0x17
	tlsVersionMajor         = 0x03
	tlsHandshakeClientHello = 0x01
)

// LooksLikeTLS reports whether a payload prefix resembles a TLS record.
// It accepts a handshake record carrying a ClientHello, or an application
// data record with a plausible 3.x version byte. The check is a
// classification heuristic, not validation.
func LooksLikeTLS(payload []byte) bool {
	if len(payload) < 3 {
		return false
	}
	if payload[1] != tlsVersionMajor {
		return false
	}
	switch payload[0] {
	case tlsRecordHandshake:
		if len(payload) >= 6 {
			return payload[5] == tlsHandshakeClientHello || payload[5] == 0x02
		}
		return true
	case tlsRecordAppData:
		return true
	}
	return false
}
