package scheduler

func grid(days, slots int) []TimeBlock {
	blocks := make([]TimeBlock, 0, days*slots)
	for d := 1; d <= days; d++ {
		for s := 1; s <= slots; s++ {
			blocks = append(blocks, TimeBlock{DayID: d, SlotID: s})
		}
	}
	return blocks
}

func room(id string, kind ClassroomType, capacity int) Classroom {
	return Classroom{ID: id, Code: id, Capacity: capacity, Type: kind, Active: true}
}

func teacher(id string, subjects ...string) Teacher {
	return Teacher{ID: id, Name: id, Active: true, SubjectIDs: subjects}
}

func lecture(id, teacherID string, sessions, enrollment int) TeachingUnit {
	return TeachingUnit{
		ID:           id,
		GroupCode:    "G-" + id,
		SubjectID:    "math",
		TeacherID:    teacherID,
		Sessions:     sessions,
		Enrollment:   enrollment,
		RequiredType: ClassroomLecture,
	}
}

func mustModel(snapshot Snapshot) *Model {
	m, err := NewModel(snapshot, DefaultWeights)
	if err != nil {
		panic(err)
	}
	return m
}
