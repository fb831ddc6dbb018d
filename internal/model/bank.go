package model

// BankFile is the JSON structure of one importable question-bank file:
// a subject with its topics and papers, produced by the ingestion
// pipeline that segments question papers and links mark schemes.
type BankFile struct {
	Subject BankSubject `json:"subject"`
	Topics  []BankTopic `json:"topics"`
	Papers  []BankPaper `json:"papers"`
}

// BankSubject identifies the subject a bank file belongs to.
type BankSubject struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// BankTopic is one curriculum topic in a bank file.
type BankTopic struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// BankPaper is one past paper with its segmented questions.
type BankPaper struct {
	Code      string         `json:"code"`
	Year      int            `json:"year"`
	Session   string         `json:"session"`
	Questions []BankQuestion `json:"questions"`
}

// BankQuestion is one segmented question. Difficulty and Topics are
// optional: when absent the classify command fills them in later.
type BankQuestion struct {
	Number     int      `json:"number"`
	Text       string   `json:"text"`
	Marks      int      `json:"marks"`
	Difficulty int      `json:"difficulty,omitempty"`
	Markscheme string   `json:"markscheme,omitempty"`
	Topics     []string `json:"topics,omitempty"`
}
