package quiz

import (
	"hash/fnv"
	"time"

	"github.com/pkg/errors"
)

const permutationSize = 10

// ErrInvalidCorrectIndex is returned when a question's correct index does not point at one of its options.
var ErrInvalidCorrectIndex = errors.New("correct index out of range")

// permutations holds the fixed orderings picked by seed mod permutationSize.
var permutations = [permutationSize][permutationSize]int{
	{3, 7, 1, 9, 0, 5, 2, 8, 6, 4},
	{8, 2, 5, 0, 6, 9, 4, 1, 3, 7},
	{1, 4, 9, 6, 2, 0, 7, 3, 5, 8},
	{6, 0, 3, 8, 5, 1, 9, 4, 7, 2},
	{9, 5, 0, 2, 7, 4, 8, 6, 1, 3},
	{2, 8, 6, 4, 1, 7, 3, 0, 9, 5},
	{5, 3, 7, 1, 9, 8, 0, 2, 4, 6},
	{7, 9, 4, 5, 3, 2, 6, 8, 0, 1},
	{4, 6, 8, 7, 0, 3, 1, 9, 2, 5},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

// Seed identifies one delivery of a quiz: a user gets the same ordering for a quiz during a UTC calendar day.
type Seed struct {
	UserID string
	QuizID string
	Date   time.Time
}

func NewSeed(userID, quizID string, t time.Time) Seed {
	return Seed{UserID: userID, QuizID: quizID, Date: t}
}

func (s Seed) String() string {
	return s.UserID + "|" + s.QuizID + "|" + s.Date.UTC().Format("2006-01-02")
}

// Value is the seed used to order the questions.
func (s Seed) Value() uint32 {
	return hash32(s.String())
}

// For is the seed used to order the options of the given question.
func (s Seed) For(questionID string) uint32 {
	return hash32(s.String() + "|" + questionID)
}

func hash32(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

// Permutation returns a deterministic ordering of the indices [0, n) for the seed.
// Element i of the result is the original index placed at position i.
func Permutation(n int, seed uint32) []int {
	if n <= 0 {
		return []int{}
	}
	if n <= permutationSize {
		return tablePermutation(n, seed%permutationSize)
	}

	numChunks := (n + permutationSize - 1) / permutationSize
	chunks := make([][]int, numChunks)
	for c := 0; c < numChunks; c++ {
		start := c * permutationSize
		end := start + permutationSize
		if end > n {
			end = n
		}
		local := tablePermutation(end-start, (seed+uint32(c))%permutationSize)
		chunk := make([]int, len(local))
		for i, idx := range local {
			chunk[i] = start + idx
		}
		chunks[c] = chunk
	}

	perm := make([]int, 0, n)
	for _, c := range Permutation(numChunks, seed) {
		perm = append(perm, chunks[c]...)
	}
	return perm
}

func tablePermutation(n int, row uint32) []int {
	perm := make([]int, 0, n)
	for _, idx := range permutations[row] {
		if idx < n {
			perm = append(perm, idx)
		}
	}
	return perm
}

// ShuffleOptions reorders the question options for the seed & remaps its CorrectIndex
// so that it still points at the same option.
func ShuffleOptions(q Question, seed uint32) (Question, error) {
	if len(q.Options) == 0 {
		return q, nil
	}
	if q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options) {
		return Question{}, errors.Wrapf(ErrInvalidCorrectIndex, "question %s", q.ID)
	}

	order := Permutation(len(q.Options), seed)
	options := make([]string, len(order))
	correct := q.CorrectIndex
	for pos, idx := range order {
		options[pos] = q.Options[idx]
		if idx == q.CorrectIndex {
			correct = pos
		}
	}
	q.Options = options
	q.CorrectIndex = correct
	return q, nil
}

// Shuffle returns the quiz as delivered for the seed: questions and options are reordered
// according to the quiz settings & questions are renumbered in delivery order.
// The receiver is left untouched.
func Shuffle(qz Quiz, seed Seed) (Quiz, error) {
	questions := make([]Question, len(qz.Questions))
	for i, q := range qz.Questions {
		q.Options = append([]string(nil), q.Options...)
		if len(q.Options) > 0 && (q.CorrectIndex < 0 || q.CorrectIndex >= len(q.Options)) {
			return Quiz{}, errors.Wrapf(ErrInvalidCorrectIndex, "question %s", q.ID)
		}
		if qz.ShuffleOptions {
			var err error
			if q, err = ShuffleOptions(q, seed.For(q.ID)); err != nil {
				return Quiz{}, err
			}
		}
		questions[i] = q
	}

	if qz.ShuffleQuestions {
		ordered := make([]Question, len(questions))
		for pos, idx := range Permutation(len(questions), seed.Value()) {
			ordered[pos] = questions[idx]
		}
		questions = ordered
	}
	for i := range questions {
		questions[i].Position = i + 1
	}

	qz.Questions = questions
	return qz, nil
}
