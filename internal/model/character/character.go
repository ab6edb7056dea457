package character

import "time"

// Character captures the role-playing attributes exposed by the catalogue.
type Character struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// Sender 标识消息的发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Valid reports whether s is a known sender.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderAI
}

// Message is one transcript entry.
type Message struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Seed provides the local catalogue used when the remote catalogue is unreachable.
func Seed() []Character {
	return []Character{
		{ID: 1, Name: "哈利波特", Avatar: "🧙‍♂️", Description: "魔法世界的传奇巫师", Category: "fiction"},
		{ID: 2, Name: "苏格拉底", Avatar: "👨‍🏫", Description: "古希腊著名哲学家", Category: "historical"},
		{ID: 3, Name: "爱因斯坦", Avatar: "🧠", Description: "著名物理学家，相对论提出者", Category: "historical"},
		{ID: 4, Name: "林黛玉", Avatar: "💃", Description: "《红楼梦》中的经典人物", Category: "fiction"},
		{ID: 5, Name: "莎士比亚", Avatar: "📝", Description: "英国著名剧作家和诗人", Category: "historical"},
		{ID: 6, Name: "哪吒", Avatar: "👶", Description: "中国古代神话中的神童", Category: "mythology"},
		{ID: 7, Name: "牛顿", Avatar: "🍎", Description: "万有引力定律的发现者", Category: "historical"},
		{ID: 8, Name: "孙悟空", Avatar: "🐒", Description: "《西游记》中的齐天大圣", Category: "mythology"},
	}
}
