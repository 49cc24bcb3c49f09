package discovery

import "slices"

// IDSet 整数 ID 集合
type IDSet map[int]struct{}

// Toggle 不存在则加入，存在则移除
func (s IDSet) Toggle(id int) {
	if _, ok := s[id]; ok {
		delete(s, id)
		return
	}
	s[id] = struct{}{}
}

func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Len() int {
	return len(s)
}

// Sorted 升序 ID 列表
func (s IDSet) Sorted() []int {
	ids := make([]int, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
