package assessment

import (
	"fmt"
	"sort"

	"github.com/stemsi/vidassess/internal/model"
)

// AnswerFileName returns the upload name of a question's answer (1-based).
func AnswerFileName(questionIndex int) string {
	return fmt.Sprintf("Q%d.mp4", questionIndex+1)
}

// Assemble converts the per-question segment map into the submission payload,
// ordered by question index.
func Assemble(id Identity, courseTitle string, segments map[int]Segment) model.VideoSubmission {
	indices := make([]int, 0, len(segments))
	for i := range segments {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	files := make([]model.AnswerFile, 0, len(indices))
	for _, i := range indices {
		files = append(files, model.AnswerFile{
			QuestionIndex: i,
			Name:          AnswerFileName(i),
			Data:          segments[i].Bytes(),
		})
	}

	return model.VideoSubmission{
		StudentID:   id.StudentID,
		CourseID:    id.CourseID,
		CourseTitle: courseTitle,
		Files:       files,
	}
}
