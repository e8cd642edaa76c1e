package transport

import "strings"

// transcriptAssembler turns the remote's transcription deltas into cumulative
// per-direction text, so each emitted event carries the whole utterance so far.
// It is used only from the reader goroutine.
type transcriptAssembler struct {
	input  strings.Builder
	output strings.Builder
}

// addInput appends a user transcription delta. A user delta closes any open
// model utterance first.
func (a *transcriptAssembler) addInput(text string, finished bool) []Event {
	evs := a.flushOutput()
	a.input.WriteString(text)
	if finished {
		return append(evs, a.flushInput()...)
	}
	if text != "" {
		evs = append(evs, InputTranscript{Text: a.input.String()})
	}
	return evs
}

// addOutput appends a model transcription delta. A model delta closes any
// open user utterance first.
func (a *transcriptAssembler) addOutput(text string, finished bool) []Event {
	evs := a.flushInput()
	a.output.WriteString(text)
	if finished {
		return append(evs, a.flushOutput()...)
	}
	if text != "" {
		evs = append(evs, OutputTranscript{Text: a.output.String()})
	}
	return evs
}

// turnComplete finalizes both directions, user first.
func (a *transcriptAssembler) turnComplete() []Event {
	return append(a.flushInput(), a.flushOutput()...)
}

// interrupted finalizes the model utterance that was cut off.
func (a *transcriptAssembler) interrupted() []Event {
	return a.flushOutput()
}

func (a *transcriptAssembler) flushInput() []Event {
	if a.input.Len() == 0 {
		return nil
	}
	ev := InputTranscript{Text: a.input.String(), Final: true}
	a.input.Reset()
	return []Event{ev}
}

func (a *transcriptAssembler) flushOutput() []Event {
	if a.output.Len() == 0 {
		return nil
	}
	ev := OutputTranscript{Text: a.output.String(), Final: true}
	a.output.Reset()
	return []Event{ev}
}
