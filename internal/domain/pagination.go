package domain

import (
	"math"
	"strconv"
	"strings"
)

const (
	// DefaultPageLimit 默认每页条数。
	DefaultPageLimit = 20
	// MaxPageID 允许的最大页码，超出时 page_id 视为非法。
	MaxPageID = 1 << 20

	maxOffset = math.MaxInt32
)

// Page 从 0 开始的分页参数。
type Page struct {
	ID   int
	Size int
}

// ParsePageID 解析查询参数 page_id。
// 缺失返回 ErrPageIDRequired，非整数、负数或超过 MaxPageID 返回 ErrPageIDInvalid。
func ParsePageID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrPageIDRequired
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 || id > MaxPageID {
		return 0, ErrPageIDInvalid
	}
	return id, nil
}

// NewPage 构造分页参数，size 非正数时使用默认值。
func NewPage(id, size int) Page {
	if size <= 0 {
		size = DefaultPageLimit
	}
	if id < 0 {
		id = 0
	}
	return Page{ID: id, Size: size}
}

// Offset 返回跳过的记录数，乘积溢出时截断为 maxOffset。
func (p Page) Offset() int {
	if p.ID <= 0 {
		return 0
	}
	limit := p.Limit()
	if p.ID > maxOffset/limit {
		return maxOffset
	}
	return p.ID * limit
}

// Limit 返回本页条数。
func (p Page) Limit() int {
	if p.Size <= 0 {
		return DefaultPageLimit
	}
	return p.Size
}
