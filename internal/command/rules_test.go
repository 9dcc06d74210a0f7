package command_test

import (
	"testing"

	"github.com/MrWong99/sarvis/internal/command"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  멈춰!  ", "멈춰"},
		{"Come   Here.", "come here"},
		{"“유튜브”, 틀어 줘?", "유튜브 틀어 줘"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := command.Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseRule(t *testing.T) {
	tests := []struct {
		text string
		mode command.Mode
		want command.Result
		ok   bool
	}{
		{"멈춰", command.ModeIdle, command.Stop(), true},
		{"STOP!", command.ModeIdle, command.Stop(), true},
		{"정지", command.ModeYoutube, command.Stop(), true},
		{"나 따라와", command.ModeIdle, command.FollowMe(), true},
		{"이리 와", command.ModeIdle, command.ComeHere(), true},
		{"원위치로 돌아가", command.ModeIdle, command.Home(), true},
		{"왼쪽으로 가", command.ModeIdle, command.Move(command.Left), true},
		{"오른쪽", command.ModeIdle, command.Move(command.Right), true},
		{"위로", command.ModeIdle, command.Move(command.Up), true},
		{"아래로 내려", command.ModeIdle, command.Move(command.Down), true},
		{"앞으로 전진", command.ModeIdle, command.Move(command.Forward), true},
		{"후진", command.ModeIdle, command.Move(command.Backward), true},
		{"유튜브 틀어줘", command.ModeIdle, command.YoutubeOpen(), true},
		{"youtube 열어", command.ModeYoutube, command.YoutubeOpen(), true},

		{"일시정지", command.ModeIdle, command.Reject(command.ReasonNotInYoutube), true},
		{"일시정지", command.ModeYoutube, command.YoutubePause(), true},
		{"일시 정지해줘", command.ModeYoutube, command.YoutubePause(), true},
		{"재생", command.ModeIdle, command.Reject(command.ReasonNotInYoutube), true},
		{"다시 재생", command.ModeYoutube, command.YoutubePlay(), true},
		{"10초 뒤로", command.ModeYoutube, command.YoutubeSeek(command.SeekForward), true},
		{"십초 전으로", command.ModeYoutube, command.YoutubeSeek(command.SeekBackward), true},
		{"10 초 되감기", command.ModeYoutube, command.YoutubeSeek(command.SeekBackward), true},
		{"10초 넘기기", command.ModeIdle, command.Reject(command.ReasonNotInYoutube), true},

		{"오늘 날씨 어때", command.ModeIdle, command.Result{}, false},
		{"   ", command.ModeIdle, command.Result{}, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.mode)+"/"+tt.text, func(t *testing.T) {
			got, ok := command.ParseRule(tt.text, tt.mode)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tt.ok, got)
			}
			if ok && got != tt.want {
				t.Errorf("ParseRule(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
