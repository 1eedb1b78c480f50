// Package onboarding implements the scripted onboarding conversation.
//
// An Engine walks a fixed, ordered list of prompts one question at a time,
// records each answer and reports progress. It performs no I/O and never
// fails; capturing and rendering text is left to the caller.
//
// An Engine is not safe for concurrent use. Callers that share one across
// goroutines must serialize access themselves.
package onboarding

import "fmt"

// Fixed replies returned by the engine once the script has been answered.
const (
	// CompletedPromptMessage is what CurrentPrompt returns after the last step.
	CompletedPromptMessage = "Thank you for completing the onboarding! Let's get started."
	// JustCompletedMessage is returned by the SubmitAnswer call that answers the last step.
	JustCompletedMessage = "Wonderful! Your onboarding is complete. Welcome aboard!"
	// AlreadyCompletedMessage is returned by SubmitAnswer calls made after completion.
	AlreadyCompletedMessage = "Thank you! Your onboarding is complete."
)

// Prompt is one fixed question in the script.
type Prompt struct {
	ID           string `json:"id" yaml:"id"`
	QuestionText string `json:"question" yaml:"question"`
}

// Step binds a Prompt to its response state.
// Answer is nil until the step has been answered; an empty string is a valid answer.
type Step struct {
	Prompt    Prompt  `json:"prompt"`
	Completed bool    `json:"completed"`
	Answer    *string `json:"answer,omitempty"`
}

// Engine is a strictly linear state machine over the steps of a script.
// States are 0..len(steps); len(steps) is terminal.
type Engine struct {
	steps        []Step
	currentIndex int
}

// NewEngine builds an engine over the given prompts. The slice is copied.
func NewEngine(prompts []Prompt) *Engine {
	steps := make([]Step, len(prompts))
	for i, p := range prompts {
		steps[i] = Step{Prompt: p}
	}
	return &Engine{steps: steps}
}

// NewDefaultEngine builds an engine over DefaultPrompts.
func NewDefaultEngine() *Engine {
	return NewEngine(DefaultPrompts())
}

// CurrentPrompt returns the question at the cursor, or CompletedPromptMessage when complete.
func (e *Engine) CurrentPrompt() string {
	if e.currentIndex >= len(e.steps) {
		return CompletedPromptMessage
	}
	return e.steps[e.currentIndex].Prompt.QuestionText
}

// SubmitAnswer records userText against the current step and advances by one.
// The text is stored verbatim. Calls made after completion change nothing.
func (e *Engine) SubmitAnswer(userText string) string {
	if e.currentIndex >= len(e.steps) {
		return AlreadyCompletedMessage
	}

	answer := userText
	step := &e.steps[e.currentIndex]
	step.Completed = true
	step.Answer = &answer
	e.currentIndex++

	if e.currentIndex < len(e.steps) {
		return e.steps[e.currentIndex].Prompt.QuestionText
	}
	return JustCompletedMessage
}

// IsComplete reports whether every step has been answered.
func (e *Engine) IsComplete() bool {
	return e.currentIndex >= len(e.steps)
}

// ProgressPercent returns 100*currentIndex/len(steps), unrounded.
// An empty script counts as fully complete.
func (e *Engine) ProgressPercent() float64 {
	if len(e.steps) == 0 {
		return 100
	}
	return 100 * float64(e.currentIndex) / float64(len(e.steps))
}

// Reset rewinds the cursor and clears every answer.
func (e *Engine) Reset() {
	e.currentIndex = 0
	for i := range e.steps {
		e.steps[i].Completed = false
		e.steps[i].Answer = nil
	}
}

// CurrentIndex returns the cursor position.
func (e *Engine) CurrentIndex() int {
	return e.currentIndex
}

// Len returns the number of steps in the script.
func (e *Engine) Len() int {
	return len(e.steps)
}

// Prompts returns a copy of the script the engine was built with.
func (e *Engine) Prompts() []Prompt {
	prompts := make([]Prompt, len(e.steps))
	for i, s := range e.steps {
		prompts[i] = s.Prompt
	}
	return prompts
}

// Steps returns a deep copy of the steps. Mutating the result does not affect the engine.
func (e *Engine) Steps() []Step {
	out := make([]Step, len(e.steps))
	for i, s := range e.steps {
		out[i] = Step{Prompt: s.Prompt, Completed: s.Completed}
		if s.Answer != nil {
			a := *s.Answer
			out[i].Answer = &a
		}
	}
	return out
}

// Snapshot is the persisted form of an engine's progress.
type Snapshot struct {
	CurrentIndex int      `json:"current_index"`
	Answers      []string `json:"answers"`
}

// Snapshot captures the cursor and the answers given so far, in step order.
func (e *Engine) Snapshot() Snapshot {
	answers := make([]string, 0, e.currentIndex)
	for i := 0; i < e.currentIndex; i++ {
		answers = append(answers, *e.steps[i].Answer)
	}
	return Snapshot{CurrentIndex: e.currentIndex, Answers: answers}
}

// Restore replaces the engine's progress with a previously captured snapshot.
// It fails, leaving the engine untouched, if the snapshot cannot describe a
// reachable state of this script.
func (e *Engine) Restore(s Snapshot) error {
	if s.CurrentIndex < 0 || s.CurrentIndex > len(e.steps) {
		return fmt.Errorf("snapshot index %d out of range [0,%d]", s.CurrentIndex, len(e.steps))
	}
	if len(s.Answers) != s.CurrentIndex {
		return fmt.Errorf("snapshot has %d answers for index %d", len(s.Answers), s.CurrentIndex)
	}

	e.Reset()
	for _, a := range s.Answers {
		e.SubmitAnswer(a)
	}
	return nil
}
