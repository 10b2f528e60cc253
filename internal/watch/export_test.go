package watch

// AppendRecord exposes the record serialiser so tests can round-trip records
// through DecodeEvents.
var AppendRecord = appendRecord

// InjectRaw writes raw bytes straight into the signal pipe, bypassing the
// forwarder. Tests use it to produce records of the wrong size and records
// carrying signals the source never subscribes.
func (s *SignalSource) InjectRaw(b []byte) error {
	_, err := s.w.Write(b)
	return err
}
