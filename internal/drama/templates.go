package drama

import "narrative-server/internal/models"

// genreTemplates holds the per-genre description libraries. Genres without
// a library fall through to genericTemplates, then defaultDescriptions.
var genreTemplates = map[models.Genre]map[models.EventKind][]string{
	models.GenreMystery: {
		models.EventPlotTwist: {
			"The victim is revealed to be alive",
			"The detective discovers they are related to the suspect",
			"A witness comes forward with contradictory evidence",
			"The murder weapon belongs to an unexpected person",
		},
		models.EventCharacterRevelation: {
			"A character's past criminal record is exposed",
			"Someone has been using a false identity",
			"A character has been secretly investigating the case",
			"Hidden family connections are revealed",
		},
		models.EventMysteriousOccurrence: {
			"A new piece of evidence mysteriously appears",
			"Someone breaks into the detective's office",
			"A threatening message is left for the investigator",
			"Key evidence goes missing from the police station",
		},
	},
	models.GenreRomance: {
		models.EventRomanticComplication: {
			"An ex-partner returns unexpectedly",
			"A misunderstanding threatens the relationship",
			"Family disapproval creates conflict",
			"Career opportunities force a difficult choice",
		},
		models.EventCharacterRevelation: {
			"One character has been hiding their true profession",
			"A character is already engaged to someone else",
			"Past relationship trauma is revealed",
			"A character has been lying about their background",
		},
		models.EventMoralDilemma: {
			"Choosing between love and family loyalty",
			"Deciding whether to reveal a damaging secret",
			"Picking between two equally deserving people",
			"Weighing personal happiness against others' needs",
		},
	},
	models.GenreThriller: {
		models.EventConflictEscalation: {
			"The antagonist raises the stakes significantly",
			"An innocent bystander becomes involved",
			"Multiple threats emerge simultaneously",
			"The safe haven is compromised",
		},
		models.EventBetrayal: {
			"A trusted ally is revealed as the enemy",
			"Someone close betrays the protagonist's location",
			"Information is leaked to the antagonist",
			"A rescue attempt is actually a trap",
		},
		models.EventDeadlinePressure: {
			"A bomb is set to explode in hours",
			"Hostages' lives are threatened with a countdown",
			"Evidence will be destroyed unless action is taken",
			"The antagonist issues an ultimatum",
		},
	},
}

// genericTemplates work for any genre.
var genericTemplates = map[models.EventKind][]string{
	models.EventUnexpectedAlly: {
		"An enemy becomes an unlikely ally",
		"Help arrives from an unexpected source",
		"A minor character proves crucial to the plot",
		"Former rivals must work together",
	},
	models.EventMajorSetback: {
		"The protagonist's plan backfires spectacularly",
		"A key resource is lost or destroyed",
		"Trust between main characters is broken",
		"The situation becomes much worse than expected",
	},
	models.EventMoralDilemma: {
		"The right choice has terrible consequences",
		"Helping one person means betraying another",
		"The truth would hurt someone innocent",
		"Success requires morally questionable actions",
	},
}

var defaultDescriptions = map[models.EventKind]string{
	models.EventPlotTwist:            "An unexpected revelation changes everything",
	models.EventCharacterRevelation:  "A character's secret is exposed",
	models.EventConflictEscalation:   "The conflict intensifies dramatically",
	models.EventBetrayal:             "Someone betrays the protagonist's trust",
	models.EventRomanticComplication: "Romance becomes complicated",
	models.EventMysteriousOccurrence: "Something mysterious happens",
	models.EventDeadlinePressure:     "Time is running out",
	models.EventMoralDilemma:         "A difficult moral choice must be made",
	models.EventUnexpectedAlly:       "Help comes from an unexpected source",
	models.EventMajorSetback:         "Plans go seriously wrong",
}

// templatesFor resolves the description library for a genre and kind.
func templatesFor(genre models.Genre, kind models.EventKind) []string {
	if byKind, ok := genreTemplates[genre]; ok {
		if ts := byKind[kind]; len(ts) > 0 {
			return ts
		}
	}
	return genericTemplates[kind]
}
