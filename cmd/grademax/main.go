package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/grademax/grademax/internal/classify"
	"github.com/grademax/grademax/internal/handler"
	appI18n "github.com/grademax/grademax/internal/i18n"
	"github.com/grademax/grademax/internal/model"
	"github.com/grademax/grademax/internal/store"
	"github.com/grademax/grademax/internal/worksheet"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "grademax",
		Short: "Practice worksheet generator for past-paper questions",
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), classifyCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `grademax --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP worksheet server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "grademax.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set GRADEMAX_ADMIN_PASSWORD)")
	f.Int("default-quota", 20, "Daily worksheet quota for new users (0 = unlimited)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <bank.json> [more.json ...]",
		Short: "Import question-bank JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "grademax.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Tag untagged questions with topics and difficulty via an LLM",
		RunE:  runClassify,
	}
	f := cmd.Flags()
	f.String("db", "grademax.db", "SQLite database path")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Int("batch-size", 100, "Max questions to classify per subject per run")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all worksheets as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "grademax.db", "SQLite database path")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADEMAX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("grademax")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/grademax")
	v.AddConfigPath("/etc/grademax")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Seed default admin user if no users exist.
	if err := seedAdmin(db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	if err := db.CleanupExpiredSessions(); err != nil {
		slog.Warn("cleanup expired sessions", "error", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	generator := worksheet.NewService(db)
	h := handler.New(db, generator, model.ServerConfig{
		SecureCookies: v.GetBool("secure-cookies"),
		DefaultQuota:  v.GetInt("default-quota"),
	})

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	questionCount, _ := db.QuestionCount()
	slog.Info("starting server",
		"addr", addr,
		"db", v.GetString("db"),
		"lang", lang,
		"questions", questionCount,
	)
	return http.ListenAndServe(addr, r)
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	for _, path := range args {
		if err := importBankFile(db, path); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
	}
	return nil
}

// importBankFile loads one question-bank JSON file, skipping files that
// were already imported unchanged. A file that changed since its import
// is refused: re-importing would duplicate papers referenced by existing
// worksheets.
func importBankFile(db *store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	hash := sha256sum(data)
	storedHash, err := db.GetBankFileHash(path)
	if err != nil {
		return fmt.Errorf("check import status: %w", err)
	}
	if storedHash == hash {
		slog.Info("bank file unchanged, skipping", "path", path)
		return nil
	}
	if storedHash != "" {
		slog.Warn("bank file changed since last import, skipping", "path", path)
		return nil
	}

	var bank model.BankFile
	if err := json.Unmarshal(data, &bank); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if bank.Subject.Code == "" {
		return fmt.Errorf("bank file has no subject code")
	}

	subjectID, err := db.UpsertSubject(bank.Subject.Code, bank.Subject.Name)
	if err != nil {
		return fmt.Errorf("upsert subject: %w", err)
	}

	topicIDs := make(map[string]int64, len(bank.Topics))
	for _, t := range bank.Topics {
		id, err := db.UpsertTopic(subjectID, t.Code, t.Name)
		if err != nil {
			return fmt.Errorf("upsert topic %s: %w", t.Code, err)
		}
		topicIDs[t.Code] = id
	}

	questionCount := 0
	for _, p := range bank.Papers {
		paperID, err := db.InsertPaper(model.Paper{
			SubjectID: subjectID,
			Code:      p.Code,
			Year:      p.Year,
			Session:   p.Session,
		})
		if err != nil {
			return err
		}
		for _, bq := range p.Questions {
			questionID, err := db.InsertQuestion(model.Question{
				PaperID:    paperID,
				Number:     bq.Number,
				Text:       bq.Text,
				Marks:      bq.Marks,
				Difficulty: model.Difficulty(bq.Difficulty),
				Markscheme: bq.Markscheme,
			})
			if err != nil {
				return fmt.Errorf("insert question %d of paper %s: %w", bq.Number, p.Code, err)
			}
			for _, code := range bq.Topics {
				topicID, ok := topicIDs[code]
				if !ok {
					return fmt.Errorf("question %d of paper %s references unknown topic %q", bq.Number, p.Code, code)
				}
				// Pre-assigned tags come from the bank file, so full confidence.
				if err := db.TagQuestion(questionID, topicID, 1.0); err != nil {
					return fmt.Errorf("tag question %d: %w", questionID, err)
				}
			}
			questionCount++
		}
	}

	if err := db.SetBankFileHash(path, hash); err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	slog.Info("imported bank file",
		"path", path, "subject", bank.Subject.Code,
		"topics", len(bank.Topics), "papers", len(bank.Papers), "questions", questionCount)
	return nil
}

func runClassify(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	client := classify.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("LLM health check: %w", err)
	}
	slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))

	subjects, err := db.ListSubjects(ctx)
	if err != nil {
		return fmt.Errorf("list subjects: %w", err)
	}

	batchSize := v.GetInt("batch-size")
	for _, subject := range subjects {
		if err := classifySubject(ctx, db, client, subject, batchSize); err != nil {
			return fmt.Errorf("classify %s: %w", subject.Code, err)
		}
	}
	return nil
}

func classifySubject(ctx context.Context, db *store.Store, client *classify.Client, subject model.Subject, batchSize int) error {
	topics, err := db.TopicsBySubject(ctx, subject.ID)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		slog.Info("subject has no topics, skipping", "subject", subject.Code)
		return nil
	}

	questions, err := db.UntaggedQuestions(ctx, subject.ID, batchSize)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		slog.Info("no untagged questions", "subject", subject.Code)
		return nil
	}

	topicIDs := make(map[string]int64, len(topics))
	for _, t := range topics {
		topicIDs[t.Code] = t.ID
	}

	tagged := 0
	for _, q := range questions {
		result, err := client.ClassifyQuestion(ctx, q, topics)
		if err != nil {
			// One bad response should not abort a long run.
			slog.Error("classification failed", "question_id", q.ID, "error", err)
			continue
		}
		for _, code := range result.TopicCodes {
			if err := db.TagQuestion(q.ID, topicIDs[code], result.Confidence); err != nil {
				return fmt.Errorf("tag question %d: %w", q.ID, err)
			}
		}
		if q.Difficulty == model.DifficultyUnset {
			if err := db.SetQuestionDifficulty(q.ID, model.Difficulty(result.Difficulty)); err != nil {
				return fmt.Errorf("set difficulty for question %d: %w", q.ID, err)
			}
		}
		if len(result.TopicCodes) > 0 {
			tagged++
		}
	}
	slog.Info("classified questions", "subject", subject.Code, "processed", len(questions), "tagged", tagged)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	worksheets, err := db.ExportAllWorksheets(context.Background())
	if err != nil {
		return fmt.Errorf("export worksheets: %w", err)
	}

	export := model.WorksheetExportFile{
		ExportedAt: time.Now(),
		Worksheets: worksheets,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(db *store.Store, password string) error {
	count, err := db.UserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or GRADEMAX_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
