package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"binance-spot-signal-bot-go/internal/config"
	"binance-spot-signal-bot-go/internal/models"
)

// prompter 处理启动时的交互式问答
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in *bufio.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out}
}

func (p *prompter) readLine() string {
	line, _ := p.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// chooseBalance 显示初始资金菜单，无效输入时使用 10000
func (p *prompter) chooseBalance() float64 {
	fmt.Fprintln(p.out, "Starting balance options:")
	fmt.Fprintln(p.out, "[1] $10   [2] $100   [3] $1,000   [4] $10,000")
	fmt.Fprint(p.out, "Select (1-4): ")
	return config.BalanceForChoice(p.readLine())
}

// confirmResume 展示上次会话的概要并询问是否恢复，只有输入 yes 时恢复
func (p *prompter) confirmResume(previous *models.PaperState) bool {
	fmt.Fprintln(p.out, "Previous session found!")
	fmt.Fprintf(p.out, "Balance: $%.2f\n", previous.Balance)
	fmt.Fprintf(p.out, "Trades: %d\n", len(previous.Trades))
	fmt.Fprint(p.out, "Resume? (yes/no): ")
	return strings.EqualFold(p.readLine(), "yes")
}
