package entities

// Analyzer language identifiers used as build matrix values
const (
	LanguageCCpp       = "c-cpp"      // Compiled native code, needs a build
	LanguageJavaScript = "javascript" // Dynamic script code
	LanguagePython     = "python"     // Interpreted script code
)

// DefaultLanguages is the language matrix of the bundled scan workflow
var DefaultLanguages = []string{LanguageCCpp, LanguageJavaScript, LanguagePython}
