package optimizer

import (
	"regexp"
	"strings"

	"github.com/thebtf/promptshelf/pkg/models"
)

// categoryKeywords drives category detection. Categories without keywords can
// only be reached through a hint or the zero-score default.
var categoryKeywords = map[models.Category][]string{
	models.CategoryImage: {
		"image", "picture", "photo", "illustration", "drawing", "generate",
		"create", "design", "render", "visualize", "photorealistic", "cartoon",
		"painting", "sketch", "artwork", "portrait", "landscape",
	},
	models.CategoryVideo: {
		"video", "animation", "clip", "footage", "scene", "camera",
		"transition", "sequence", "duration", "film", "movie", "motion",
	},
	models.CategoryAll:    {},
	models.CategoryCustom: {},
}

// Check reports whether a rule applies to the prompt text.
type Check func(prompt string) bool

// Rule is one entry of a category's optimization battery.
type Rule struct {
	ID          string
	Name        string
	Check       Check
	Description string
	Template    string
	Priority    models.Priority
}

// missing returns a Check that fires when none of the alternatives appear
// anywhere in the prompt, case-insensitively.
func missing(alternatives ...string) Check {
	re := regexp.MustCompile(`(?i)(` + strings.Join(alternatives, "|") + `)`)
	return func(p string) bool {
		return !re.MatchString(p)
	}
}

// fewerWordsThan returns a Check that fires for prompts shorter than n words.
func fewerWordsThan(n int) Check {
	return func(p string) bool {
		return len(strings.Fields(p)) < n
	}
}

// optimizationRules holds the rule battery per category in declaration order.
var optimizationRules = map[models.Category][]Rule{
	models.CategoryAll: {
		{
			ID:          "general-format",
			Name:        "Specify Format",
			Check:       missing("format", "structure", "style", "tone"),
			Description: "Add desired format and tone",
			Template:    "Format: [SPECIFY] | Tone: [SPECIFY]",
			Priority:    models.PriorityHigh,
		},
		{
			ID:          "general-context",
			Name:        "Add Context",
			Check:       fewerWordsThan(8),
			Description: "Provide more context and specific requirements",
			Template:    "Context: [PROVIDE BACKGROUND] | Requirements: [SPECIFY]",
			Priority:    models.PriorityMedium,
		},
	},

	models.CategoryImage: {
		{
			ID:          "image-subject",
			Name:        "Describe Subject",
			Check:       fewerWordsThan(5),
			Description: "Add detailed subject description",
			Template:    "Subject: [DETAILED DESCRIPTION]",
			Priority:    models.PriorityHigh,
		},
		{
			ID:          "image-style",
			Name:        "Specify Art Style",
			Check:       missing("style", "photorealistic", "cartoon", "painting", "illustration", "artwork", "realistic", "artistic"),
			Description: "Define art style (photorealistic, cartoon, etc.)",
			Template:    "Style: [PHOTOREALISTIC/CARTOON/PAINTING/etc.]",
			Priority:    models.PriorityHigh,
		},
		{
			ID:          "image-lighting",
			Name:        "Lighting Details",
			Check:       missing("light", "lighting", "bright", "dark", "shadow", "illuminate", "sunlight", "studio"),
			Description: "Describe lighting (natural, studio, dramatic, etc.)",
			Template:    "Lighting: [SPECIFY]",
			Priority:    models.PriorityMedium,
		},
		{
			ID:          "image-composition",
			Name:        "Composition",
			Check:       missing("angle", "perspective", "view", "framing", "composition", "centered", "close-up", "wide"),
			Description: "Define framing and perspective",
			Template:    "Composition: [FRAMING, ANGLE, PERSPECTIVE]",
			Priority:    models.PriorityMedium,
		},
		{
			ID:          "image-quality",
			Name:        "Quality Specs",
			Check:       missing("4k", "hd", "quality", "resolution", "detail", "high detail"),
			Description: "Add quality requirements (4K, high detail, etc.)",
			Template:    "Quality: [4K, HIGH DETAIL, etc.]",
			Priority:    models.PriorityLow,
		},
	},

	models.CategoryVideo: {
		{
			ID:          "video-duration",
			Name:        "Specify Duration",
			Check:       missing("second", "minute", "duration", "length", "long", "short", "time"),
			Description: "Define video length",
			Template:    "Duration: [X seconds/minutes]",
			Priority:    models.PriorityHigh,
		},
		{
			ID:          "video-opening",
			Name:        "Opening Scene",
			Check:       missing("start", "begin", "opening", "first", "intro", "introduction"),
			Description: "Describe first scene in detail",
			Template:    "Opening: [SCENE DESCRIPTION]",
			Priority:    models.PriorityHigh,
		},
		{
			ID:          "video-sequence",
			Name:        "Scene Sequence",
			Check:       missing("scene", "sequence", "then", "next", "after", "flow"),
			Description: "Break down scene by scene",
			Template:    "Sequence: [SCENE 1, SCENE 2, ...]",
			Priority:    models.PriorityMedium,
		},
		{
			ID:          "video-camera",
			Name:        "Camera Work",
			Check:       missing("camera", "angle", "movement", "pan", "zoom", "shot", "perspective"),
			Description: "Specify camera movements and angles",
			Template:    "Camera: [MOVEMENTS, ANGLES]",
			Priority:    models.PriorityMedium,
		},
		{
			ID:          "video-audio",
			Name:        "Audio Style",
			Check:       missing("audio", "music", "sound", "soundtrack", "background"),
			Description: "Describe background music or sound",
			Template:    "Audio: [MUSIC STYLE, SOUND EFFECTS]",
			Priority:    models.PriorityLow,
		},
	},

	models.CategoryCustom: {},
}

// scaffold describes the restructured prompt for a category.
type scaffold struct {
	header string
	label  string
	fields []string
}

var scaffolds = map[models.Category]scaffold{
	models.CategoryImage: {
		header: "Generate a detailed image with the following specifications:",
		label:  "Subject",
		fields: []string{
			"Style: [Specify: photorealistic/cartoon/painting/etc.]",
			"Composition: [Specify: framing, angle, perspective]",
			"Lighting: [Specify: natural/studio/dramatic/etc.]",
			"Colors: [Specify: color palette and mood]",
			"Quality: 4K resolution, high detail",
		},
	},
	models.CategoryVideo: {
		header: "Create a video with the following specifications:",
		label:  "Concept",
		fields: []string{
			"Duration: [Specify length in seconds/minutes]",
			"Opening: [Describe first scene]",
			"Sequence: [Scene breakdown]",
			"Camera: [Movement and angles]",
			"Audio: [Background music style]",
		},
	},
}

// defaultScaffold serves "all", "custom" and anything unknown.
var defaultScaffold = scaffold{
	header: "Task with the following specifications:",
	label:  "Request",
	fields: []string{
		"Format: [Specify desired output format]",
		"Tone: [Specify: formal/casual/professional/etc.]",
		"Requirements: [Add specific requirements or constraints]",
		"Context: [Provide relevant background information]",
	},
}

var improvements = map[models.Category][]string{
	models.CategoryAll: {
		"Added structured format specification",
		"Included tone and context guidance",
		"Specified requirements and constraints",
		"Improved clarity and specificity",
	},
	models.CategoryImage: {
		"Added detailed subject description",
		"Specified art style",
		"Included lighting and composition details",
		"Added quality specifications",
	},
	models.CategoryVideo: {
		"Added duration specification",
		"Included scene breakdown structure",
		"Specified camera work",
		"Added audio requirements",
	},
	models.CategoryCustom: {
		"Applied general optimization principles",
		"Enhanced structure and clarity",
	},
}
