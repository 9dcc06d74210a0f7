package command

import "strings"

// punctuation is replaced by spaces before matching.
var punctuation = strings.NewReplacer(
	".", " ", ",", " ", "!", " ", "?", " ", "\"", " ", "'", " ",
	"“", " ", "”", " ", "’", " ", "‘", " ",
)

// Normalize lowercases s, blanks out punctuation and collapses whitespace.
func Normalize(s string) string {
	s = punctuation.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

var (
	stopWords     = []string{"정지", "멈춰", "스톱", "stop"}
	followWords   = []string{"따라와", "따라 와", "follow"}
	comeHereWords = []string{"이리와", "이리 와", "이쪽으로 와", "come here", "컴히어"}
	homeWords     = []string{"저리가", "저리 가", "원위치", "홈", "home", "돌아가"}

	youtubeWords  = []string{"유튜브", "youtube"}
	openWords     = []string{"실행", "켜", "틀어", "열어", "켜줘", "켜 줘", "열어줘", "열어 줘"}
	tenSecWords   = []string{"10초", "십초", "10 초", "십 초"}
	seekBackWords = []string{"전", "이전", "앞으로 감기", "되감기", "back"}
	seekFwdWords  = []string{"뒤", "이후", "앞으로", "넘기", "skip", "forward"}
	pauseWords    = []string{"일시정지", "일시 정지", "pause", "퍼즈"}
	playWords     = []string{"재생", "플레이", "play", "시작"}

	// A move keyword next to one of these belongs to a YouTube command.
	moveBlockers = []string{"유튜브", "youtube", "일시정지", "재생", "10초", "십초", "10 초", "십 초"}
)

// moveRules is checked in order; the first direction whose keyword occurs
// wins.
var moveRules = []struct {
	keys []string
	dir  Direction
}{
	{[]string{"왼쪽", "좌", "왼", "left"}, Left},
	{[]string{"오른쪽", "우", "오른", "right"}, Right},
	{[]string{"위", "위로", "up"}, Up},
	{[]string{"아래", "아래로", "down"}, Down},
	{[]string{"앞", "앞으로", "전진", "forward"}, Forward},
	{[]string{"뒤", "뒤로", "후진", "backward"}, Backward},
}

// ParseRule matches text against the keyword grammar. ok is false when no
// rule applies. YouTube controls outside ModeYoutube yield
// Reject(not_in_youtube) with ok true.
//
// Pause is checked before stop because "일시정지" contains "정지".
func ParseRule(text string, mode Mode) (Result, bool) {
	t := Normalize(text)
	if t == "" {
		return Result{}, false
	}
	inYoutube := mode == ModeYoutube
	gated := func(r Result) (Result, bool) {
		if !inYoutube {
			return Reject(ReasonNotInYoutube), true
		}
		return r, true
	}

	if containsAny(t, pauseWords) {
		return gated(YoutubePause())
	}
	if containsAny(t, stopWords) {
		return Stop(), true
	}
	if containsAny(t, followWords) {
		return FollowMe(), true
	}
	if containsAny(t, comeHereWords) {
		return ComeHere(), true
	}
	if containsAny(t, homeWords) {
		return Home(), true
	}

	if !containsAny(t, moveBlockers) {
		for _, r := range moveRules {
			if containsAny(t, r.keys) {
				return Move(r.dir), true
			}
		}
	}

	if containsAny(t, youtubeWords) && containsAny(t, openWords) {
		return YoutubeOpen(), true
	}

	if containsAny(t, tenSecWords) {
		if containsAny(t, seekBackWords) {
			return gated(YoutubeSeek(SeekBackward))
		}
		if containsAny(t, seekFwdWords) {
			return gated(YoutubeSeek(SeekForward))
		}
	}

	if containsAny(t, playWords) {
		return gated(YoutubePlay())
	}

	return Result{}, false
}
