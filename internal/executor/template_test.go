package executor

import "testing"

func TestRender_BareAndParenthesized(t *testing.T) {
	params := map[string]string{"lr": "0.01", "batch": "32"}

	got := Render("train.sh --lr=$lr --batch=$(batch)x", params)
	want := "train.sh --lr=0.01 --batch=32x"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRender_PercentForms(t *testing.T) {
	params := map[string]string{"name": "trial"}
	got := Render("echo %name and %(name)suffix", params)
	want := "echo trial and trialsuffix"
	if got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRender_UnknownNameLeftLiteral(t *testing.T) {
	got := Render("echo $missing", nil)
	if got != "echo $missing" {
		t.Errorf("Render() = %q, want literal passthrough", got)
	}
}

func TestRender_UnterminatedParenLeftLiteral(t *testing.T) {
	got := Render("echo $(unterminated", map[string]string{"unterminated": "x"})
	if got != "echo $(unterminated" {
		t.Errorf("Render() = %q, want literal passthrough", got)
	}
}

func TestFlatten_ReplacesNewlinesWithSpaces(t *testing.T) {
	in := "module load foo\n./run.sh --x=$x\r\nexit 0"
	got := Flatten(in)
	want := "module load foo ./run.sh --x=$x exit 0"
	if got != want {
		t.Errorf("Flatten() = %q, want %q", got, want)
	}
}

func TestFlatten_AppliedAfterRenderFlattensSubstitutedNewlines(t *testing.T) {
	params := map[string]string{"note": "line one\nline two"}
	composed := Render("echo $note", params)
	got := Flatten(composed)
	want := "echo line one line two"
	if got != want {
		t.Errorf("Flatten(Render()) = %q, want %q", got, want)
	}
}
