package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agenthands/medrag/internal/core/model"
	"github.com/agenthands/medrag/internal/prompt"
)

var (
	baseURL    string
	showDetail bool
	historyLen int
	timeout    time.Duration
)

type turn struct {
	Question string
	Answer   *model.Answer
}

type session struct {
	client  *http.Client
	history []turn
	out     io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "qa",
	Short: "Interactive medical question answering client",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &session{client: &http.Client{Timeout: timeout}, out: cmd.OutOrStdout()}
		if len(args) > 0 {
			return s.ask(cmd.Context(), strings.Join(args, " "))
		}
		return s.loop(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&baseURL, "url", "u", envOr("MEDRAG_URL", "http://localhost:8080"), "Server address")
	rootCmd.Flags().BoolVarP(&showDetail, "detail", "d", false, "Show linked entities and a context summary")
	rootCmd.Flags().IntVar(&historyLen, "history", 20, "Number of exchanges kept in history")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 90*time.Second, "Request timeout")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (s *session) loop(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, "医疗问答助手 (输入 help 查看命令, quit 退出)")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "\n问题> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		case "help":
			fmt.Fprintln(s.out, "history  显示历史问答\nclear    清空历史\ndetail   切换详细信息\nquit     退出")
			continue
		case "history":
			s.printHistory()
			continue
		case "clear":
			s.history = nil
			fmt.Fprintln(s.out, "历史已清空")
			continue
		case "detail":
			showDetail = !showDetail
			fmt.Fprintf(s.out, "详细信息: %v\n", showDetail)
			continue
		}
		if err := s.ask(ctx, line); err != nil {
			fmt.Fprintf(s.out, "错误: %v\n", err)
		}
	}
}

func (s *session) ask(ctx context.Context, question string) error {
	ans, err := s.post(ctx, question)
	if ans != nil {
		s.remember(question, ans)
		s.print(ans)
	}
	return err
}

func (s *session) post(ctx context.Context, question string) (*model.Answer, error) {
	body, err := json.Marshal(map[string]string{"question": question})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/ask", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		var ans model.Answer
		if err := json.Unmarshal(data, &ans); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		return &ans, nil
	}

	var failure struct {
		Error  string        `json:"error"`
		Answer *model.Answer `json:"answer"`
	}
	if err := json.Unmarshal(data, &failure); err != nil || failure.Error == "" {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data))
	}
	return failure.Answer, fmt.Errorf("%s", failure.Error)
}

func (s *session) remember(question string, ans *model.Answer) {
	s.history = append(s.history, turn{Question: question, Answer: ans})
	if historyLen > 0 && len(s.history) > historyLen {
		s.history = s.history[len(s.history)-historyLen:]
	}
}

func (s *session) print(ans *model.Answer) {
	if ans.Answer != "" {
		fmt.Fprintf(s.out, "\n%s\n", ans.Answer)
	}
	fmt.Fprintf(s.out, "\n置信度: %.2f", ans.Confidence)
	if ans.Partial {
		fmt.Fprint(s.out, " (部分结果)")
	}
	fmt.Fprintln(s.out)

	if len(ans.Citations) > 0 {
		names := make([]string, len(ans.Citations))
		for i, c := range ans.Citations {
			names[i] = fmt.Sprintf("%s[%s]", c.Name, c.Kind)
		}
		fmt.Fprintf(s.out, "引用: %s\n", strings.Join(names, ", "))
	}
	if !showDetail {
		return
	}
	if len(ans.RelatedEntities) > 0 {
		fmt.Fprintln(s.out, "识别实体:")
		for _, e := range ans.RelatedEntities {
			fmt.Fprintf(s.out, "  %s (%s, %s %.2f)\n", e.Name, e.Kind, e.Method, e.Confidence)
		}
	}
	if ans.Context != nil {
		fmt.Fprintf(s.out, "上下文摘要:\n%s\n", prompt.Summarize(prompt.ContextText(ans.Context)))
	}
	for _, d := range ans.Diagnostics {
		fmt.Fprintf(s.out, "诊断: [%s] %s %s\n", d.Stage, d.Code, d.Message)
	}
}

func (s *session) printHistory() {
	if len(s.history) == 0 {
		fmt.Fprintln(s.out, "暂无历史")
		return
	}
	for i, t := range s.history {
		fmt.Fprintf(s.out, "%d. 问: %s\n   答: %s\n", i+1, t.Question, firstLine(t.Answer.Answer))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
