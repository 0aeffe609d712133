package emoji

var builtin = map[string]string{
	"smile":            "😄",
	"slightly_smiling": "🙂",
	"grin":             "😁",
	"joy":              "😂",
	"wink":             "😉",
	"blush":            "😊",
	"heart_eyes":       "😍",
	"thinking_face":    "🤔",
	"neutral_face":     "😐",
	"cry":              "😢",
	"sob":              "😭",
	"angry":            "😠",
	"scream":           "😱",
	"sunglasses":       "😎",
	"sleeping":         "😴",
	"point_up":         "☝️",
	"thumbsup":         "👍",
	"+1":               "👍",
	"thumbsdown":       "👎",
	"-1":               "👎",
	"clap":             "👏",
	"wave":             "👋",
	"pray":             "🙏",
	"ok_hand":          "👌",
	"muscle":           "💪",
	"heart":            "❤️",
	"broken_heart":     "💔",
	"fire":             "🔥",
	"star":             "⭐",
	"sparkles":         "✨",
	"tada":             "🎉",
	"rocket":           "🚀",
	"eyes":             "👀",
	"100":              "💯",
	"coffee":           "☕",
	"pizza":            "🍕",
	"beer":             "🍺",
	"sun":              "☀️",
	"zap":              "⚡",
	"white_check_mark": "✅",
	"x":                "❌",
	"warning":          "⚠️",
	"question":         "❓",
}
