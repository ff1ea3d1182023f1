// Package gateway talks to the PSE intermediary that signs documents and
// relays them to the tax authority.
package gateway

// Outcome is the closed classification of a gateway response. Anything the
// table does not recognize fails closed as a transient error: an unknown
// code is never treated as an acceptance.
type Outcome int

const (
	// OutcomeAccepted: the authority acknowledged the document. The legal
	// side effects (counter advance, revenue commit) follow.
	OutcomeAccepted Outcome = iota
	// OutcomeRejected: explicit permanent rejection; the document will never
	// succeed unmodified.
	OutcomeRejected
	// OutcomeError: transient failure (timeout, outage, unknown code);
	// eligible for automatic retry.
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "ACCEPTED"
	case OutcomeRejected:
		return "REJECTED"
	default:
		return "ERROR"
	}
}

type codeEntry struct {
	outcome Outcome
	reason  string
}

// Authority response codes. 2xxx acceptance, 4xxx permanent rejection,
// 5xxx service errors.
var responseCodes = map[string]codeEntry{
	"2000": {OutcomeAccepted, "Aceptado"},
	"2001": {OutcomeAccepted, "Aceptado con observaciones"},
	"4000": {OutcomeRejected, "Error en formato del XML"},
	"4001": {OutcomeRejected, "RUC del emisor inválido"},
	"4002": {OutcomeRejected, "Documento duplicado"},
	"4003": {OutcomeRejected, "Total declarado no coincide"},
	"5000": {OutcomeError, "Servicio no disponible"},
	"5001": {OutcomeError, "Timeout del servicio"},
	"5002": {OutcomeError, "Error interno del servicio"},
}

// Classify maps an authority response code to an outcome and a
// human-readable reason.
func Classify(code string) (Outcome, string) {
	if entry, ok := responseCodes[code]; ok {
		return entry.outcome, entry.reason
	}
	return OutcomeError, "Código desconocido: " + code
}
