/*
Package batprotocol defines the messages exchanged between a simulation kernel and an external decision
component (EDC), along with the codec used to put them on the wire.

Every call carries one Message: a simulated time Now and a list of timestamped events. The kernel sends
events (a job was submitted, a job completed, a probe emitted data) and the EDC answers with decisions
(execute a job, reject it, create a probe). Both directions use the same envelope:

	{"now": 10.0, "events": [{"timestamp": 4.0, "type": "JobCompleted", "payload": {...}}]}

with "decisions" replacing "events" for EDC replies. Events within a message never go back in time and
never exceed Now; the codec checks this on both encode and decode and answers any violation with an
edcerrors.ErrProtocolViolation.

Two encodings are available. FormatJSON sends the document above as is. FormatBinary sends the same
document as a protobuf-encoded google.protobuf.Struct.
*/
package batprotocol
