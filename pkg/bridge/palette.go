// Copyright 2024-2026 Aiku AI

package bridge

// PaletteEmoji pairs a site emoji with its Mattermost emoji name.
type PaletteEmoji struct {
	Emoji string
	Name  string
}

// SitePalette is the set of reactions the site's chat room offers, in the
// site's order.
var SitePalette = []PaletteEmoji{
	{"👍", "+1"},
	{"👎", "-1"},
	{"❤️", "heart"},
	{"😂", "joy"},
	{"😮", "open_mouth"},
	{"😢", "cry"},
	{"🔥", "fire"},
	{"🤡", "clown_face"},
	{"🤬", "face_with_symbols_on_mouth"},
	{"🍷", "wine_glass"},
	{"🧐", "face_with_monocle"},
	{"💃", "dancer"},
	{"🚩", "triangular_flag_on_post"},
	{"🤷‍♂️", "man-shrugging"},
	{"🙄", "face_with_rolling_eyes"},
	{"💔", "broken_heart"},
	{"🤯", "exploding_head"},
	{"🔔", "bell"},
}
