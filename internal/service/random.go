package service

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// 随机别名使用的词表
var words = []string{
	"amber", "anchor", "apple", "arrow", "aspen", "autumn", "badge", "bamboo", "basil", "beacon",
	"birch", "blossom", "breeze", "brook", "cactus", "candle", "canyon", "cedar", "cherry", "cinder",
	"clover", "cobalt", "comet", "coral", "cotton", "crystal", "dawn", "delta", "desert", "dune",
	"ember", "falcon", "fern", "fjord", "flint", "forest", "frost", "garnet", "glacier", "granite",
	"harbor", "hazel", "heron", "honey", "indigo", "island", "ivory", "jasper", "juniper", "kettle",
	"lagoon", "lantern", "lemon", "lilac", "linen", "lotus", "maple", "marble", "meadow", "mint",
	"nectar", "noble", "oasis", "olive", "onyx", "orchid", "otter", "pebble", "pepper", "pine",
	"plum", "prairie", "quartz", "quill", "raven", "reef", "ripple", "river", "saffron", "sage",
	"shadow", "silver", "spruce", "stone", "summit", "thistle", "thunder", "timber", "topaz", "tulip",
	"velvet", "violet", "walnut", "willow", "winter", "yarrow", "zephyr", "zinc",
}

const randomAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// randomInt 返回 [0, n) 内的均匀随机数
func randomInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand 在受支持的平台上不会失败
		panic(err)
	}
	return int(v.Int64())
}

func randomWord() string {
	return words[randomInt(len(words))]
}

// randomString 生成由小写字母和数字组成的随机串
func randomString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(randomAlphabet[randomInt(len(randomAlphabet))])
	}
	return b.String()
}

// randomLocalPart 生成 word_word123 形式的本地部分
func randomLocalPart() string {
	var b strings.Builder
	b.WriteString(randomWord())
	b.WriteByte('_')
	b.WriteString(randomWord())
	for i := 0; i < 3; i++ {
		b.WriteByte(byte('0' + randomInt(10)))
	}
	return b.String()
}
