package overlord

import "sync"

// AnswerBuffer holds operator answers to minion questions until the minion's
// poll loop collects them. Keys are (minion_id, question_id).
type AnswerBuffer struct {
	mu      sync.Mutex
	answers map[string]string
}

// NewAnswerBuffer returns an empty buffer.
func NewAnswerBuffer() *AnswerBuffer {
	return &AnswerBuffer{answers: map[string]string{}}
}

func answerKey(minionID, questionID string) string {
	return minionID + "/" + questionID
}

// Set stores an answer.
func (b *AnswerBuffer) Set(minionID, questionID, answer string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.answers[answerKey(minionID, questionID)] = answer
}

// Take returns the answer if present and removes it, so each answer is
// delivered exactly once.
func (b *AnswerBuffer) Take(minionID, questionID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := answerKey(minionID, questionID)
	answer, ok := b.answers[key]
	if ok {
		delete(b.answers, key)
	}
	return answer, ok
}
