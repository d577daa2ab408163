package config

type WorkerKeyStruct struct {
	PersistSubmissionsQueue string
	// SubmissionsDeadLetter holds attempts the database refused for good.
	SubmissionsDeadLetter string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSubmissionsQueue: "persist_video_submissions_queue",
	SubmissionsDeadLetter:   "persist_video_submissions_dead_letter",
}
