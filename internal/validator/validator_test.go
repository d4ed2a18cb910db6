package validator

import (
	"testing"
)

// one validator for the package; building the detector loads language models
var shared = New("ko", "ja", "uk")

func TestIsValid_EmptyTargetLang(t *testing.T) {
	valid, err := shared.IsValid("Some translated text", "")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !valid {
		t.Error("expected valid=true for empty targetLang")
	}
}

func TestIsValid_EmptyTranslation(t *testing.T) {
	for _, text := range []string{"", "   "} {
		valid, err := shared.IsValid(text, "ko")
		if err == nil {
			t.Errorf("expected error for %q", text)
		}
		if valid {
			t.Errorf("expected valid=false for %q", text)
		}
	}
}

func TestIsValid_ShortText(t *testing.T) {
	valid, err := shared.IsValid("はい", "ko") // below minValidationLength
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !valid {
		t.Error("expected valid=true for short text (below threshold)")
	}
}

func TestIsValid_Korean(t *testing.T) {
	text := "나는 고양이로소이다. 이름은 아직 없다. 어디서 태어났는지 도통 모르겠다."
	for _, target := range []string{"ko", "KO", "ko-KR"} {
		valid, err := shared.IsValid(text, target)
		if err != nil || !valid {
			t.Errorf("target %q: expected valid, got %v", target, err)
		}
	}
}

func TestIsValid_UntranslatedJapanese(t *testing.T) {
	text := "吾輩は猫である。名前はまだ無い。どこで生れたかとんと見当がつかぬ。"
	valid, err := shared.IsValid(text, "ko")
	if err == nil {
		t.Error("expected error for untranslated text")
	}
	if valid {
		t.Error("expected valid=false when detecting Japanese but expecting Korean")
	}
}

func TestIsValid_ExtraLanguage(t *testing.T) {
	text := "Це є тестовий текст українською мовою для перевірки роботи валідатора."
	if valid, err := shared.IsValid(text, "uk"); !valid {
		t.Errorf("expected valid=true for Ukrainian, got %v", err)
	}
}

func TestCheckBatch(t *testing.T) {
	good := []string{"그는", "나는 고양이로소이다. 이름은 아직 없다. 어디서 태어났는지 도통 모르겠다."}
	if err := shared.CheckBatch(good, "ko"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := append(good, "吾輩は猫である。名前はまだ無い。どこで生れたかとんと見当がつかぬ。")
	if err := shared.CheckBatch(bad, "ko"); err == nil {
		t.Error("expected an error for the untranslated segment")
	}
}
