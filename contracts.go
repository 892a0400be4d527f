package introspection

// Stage is how far a token got through verification.
type Stage int

const (
	StageReceived Stage = iota
	StageDecoded
	StageSignatureChecked
	StageClaimsChecked
	StageRevocationChecked
	StageResponded
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageDecoded:
		return "decoded"
	case StageSignatureChecked:
		return "signature_checked"
	case StageClaimsChecked:
		return "claims_checked"
	case StageRevocationChecked:
		return "revocation_checked"
	case StageResponded:
		return "responded"
	}
	return "unknown"
}
