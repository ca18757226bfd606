// Package rewrite turns (topic, payload) messages into gauge observations.
//
// A Dispatcher holds an ordered list of Rules. For every message the payload
// is coerced once into a Value (numbers, booleans as 1/0, JSON documents,
// otherwise the raw text) and each rule's Pattern is searched for in the
// topic. A matching rule renders its Name, Labels and Value templates against
// the context
//
//	{M: <coerced payload>, T: <regexp captures>}
//
// and records the result through a Recorder, normally a metric.GaugeCache.
// The first matching rule ends evaluation unless it sets Continue.
//
// Templates use the mustache variable syntax:
//
//	{{T.1}}       capture group 1, HTML escaped
//	{{{M.temp}}}  field of a JSON payload, raw
//	{{& T.room}}  named capture, raw
//	{{! note }}   comment
//
// Rendering never fails; a missing path renders as the empty string. A value
// that is not numeric is recorded as 0 with a warning, and an empty metric
// name skips the rule with a warning. None of these stop later rules.
package rewrite
