package whatsapp

import "testing"

func TestFromTelegramHTML(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain text", "plain text"},
		{"<b>GPT-5.2</b> takes the lead", "*GPT-5.2* takes the lead"},
		{"<i>quietly</i> climbing", "_quietly_ climbing"},
		{"run <code>rankwatch</code> now", "run `rankwatch` now"},
		{`see <a href="https://example.com/board">the board</a>`, "see the board (https://example.com/board)"},
		{"<b>bold</b> and <i>italic</i> and <u>other</u>", "*bold* and _italic_ and other"},
		{"a &amp; b &lt;c&gt;", "a & b <c>"},
		{"  <b>trimmed</b>  ", "*trimmed*"},
	}
	for _, tc := range cases {
		if got := FromTelegramHTML(tc.in); got != tc.want {
			t.Errorf("FromTelegramHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFromTelegramHTMLMultiline(t *testing.T) {
	in := "<b>Leaderboard update</b>\n\n<i>openrouter</i>: new entry at #2"
	want := "*Leaderboard update*\n\n_openrouter_: new entry at #2"
	if got := FromTelegramHTML(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
