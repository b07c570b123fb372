package facts

import (
	"payrecon/model"
	"payrecon/rawdecode"
)

// Input is what every extractor sees: the record and its decoded payload.
// Payload is nil when the raw response could not be read.
type Input struct {
	Record  model.PaymentRecord
	Payload map[string]any
}

func newInput(rec model.PaymentRecord) Input {
	return Input{Record: rec, Payload: rawdecode.Decode(rec.RawResponse)}
}

// Extractor reads one shape. ok is false when the shape is absent or does
// not yield a usable value.
type Extractor[T any] func(in Input) (v T, ok bool)

// Probe is an ordered list of extractors; the first success wins. New payload
// shapes are supported by appending an extractor at the right precedence.
type Probe[T any] []Extractor[T]

func (p Probe[T]) First(in Input) (T, bool) {
	for _, extract := range p {
		if v, ok := extract(in); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// firstPurchaseUnit returns purchase_units[0] of the payload.
func firstPurchaseUnit(in Input) map[string]any {
	return rawdecode.Object(in.Payload, "purchase_units", 0)
}

func firstCapture(in Input) map[string]any {
	return rawdecode.Object(firstPurchaseUnit(in), "payments", "captures", 0)
}

func firstTransaction(in Input) map[string]any {
	return rawdecode.Object(in.Payload, "transactions", 0)
}
