package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	model "github.com/zhouzirui/z-tavern/client/internal/model/character"
)

const chatHelp = "输入消息后回车发送。/voice 语音输入，/clear 重新开始，/quit 退出。"

func (c *cli) chatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <character-id>",
		Short: "Chat with a character",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if err := c.app.requireLogin(ctx); err != nil {
				return err
			}
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid character id %q", args[0])
			}
			character, err := c.app.characters.Get(ctx, id)
			if err != nil {
				return err
			}
			if character == nil {
				return fmt.Errorf("character %d not found", id)
			}

			chat := c.app.chatState
			chat.SelectCharacter(ctx, *character)
			fmt.Fprintln(out, chatHelp)
			printed := printMessages(out, chat.Snapshot().Transcript, 0)

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			prompt := character.Name + " > "
			for {
				input, err := line.Prompt(prompt)
				if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				input = strings.TrimSpace(input)
				if input == "" {
					continue
				}
				line.AppendHistory(input)

				switch input {
				case "/quit", "/exit":
					return nil
				case "/clear":
					chat.SelectCharacter(ctx, *character)
					printed = printMessages(out, chat.Snapshot().Transcript, 0)
					continue
				case "/voice":
					text, err := c.recordOnce(ctx, line, out)
					if err != nil {
						fmt.Fprintf(out, "! %s\n", chat.Snapshot().Error)
						continue
					}
					if strings.TrimSpace(text) == "" {
						fmt.Fprintln(out, "! 没有识别到内容")
						continue
					}
					input = text
				}

				if err := chat.SendMessage(ctx, input); err != nil {
					printed = printMessages(out, chat.Snapshot().Transcript, printed)
					fmt.Fprintf(out, "! %s\n", chat.Snapshot().Error)
					continue
				}
				printed = printMessages(out, chat.Snapshot().Transcript, printed)
			}
		},
	}
}

func (c *cli) voiceCommand() *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Record one utterance and print the recognised text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if probe {
				if c.app.recorder == nil {
					return errors.New("no voice device configured, set TAVERN_VOICE_DEVICE")
				}
				if err := c.app.recorder.Probe(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "录音设备可用")
				return nil
			}

			if err := c.app.requireLogin(ctx); err != nil {
				return err
			}

			line := liner.NewLiner()
			defer line.Close()
			line.SetCtrlCAborts(true)

			text, err := c.recordOnce(ctx, line, out)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, text)
			return nil
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "only check that the recording device can be opened")
	return cmd
}

// recordOnce 开始识别，等待回车后结束并返回文本。中途取消也会结束会话以释放设备。
func (c *cli) recordOnce(ctx context.Context, line *liner.State, out io.Writer) (string, error) {
	chat := c.app.chatState
	sessionID, err := chat.StartVoiceRecognition(ctx)
	if err != nil {
		return "", err
	}

	_, promptErr := line.Prompt("录音中，按回车结束… ")
	text, err := chat.StopVoiceRecognition(ctx, sessionID)
	if promptErr != nil {
		return "", promptErr
	}
	if err != nil {
		return "", err
	}
	fmt.Fprintf(out, "识别结果: %s\n", text)
	return text, nil
}

// printMessages 打印 from 之后的消息，返回已打印数量。
func printMessages(out io.Writer, transcript []model.Message, from int) int {
	if from > len(transcript) {
		from = 0
	}
	for _, m := range transcript[from:] {
		speaker := "你"
		if m.Sender == model.SenderAI {
			speaker = "AI"
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), speaker, m.Text)
	}
	return len(transcript)
}
