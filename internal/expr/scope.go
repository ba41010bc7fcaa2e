package expr

// Scope — слоистое упорядоченное пространство имён задачи.
//
// Derive возвращает дочерний слой: он видит имена родителя,
// а его собственные записи не видны ни родителю, ни соседним слоям.
// Запись зарезервированного имени (today, report, ...) просто
// затеняет его для потомков.
//
// Scope не потокобезопасен для записи: цепочка пререквизитов задачи
// выполняется последовательно, а общий родительский слой заполняется
// до запуска задач и дальше только читается.
type Scope struct {
	parent *Scope
	names  []string
	vars   map[string]Value
}

// NewScope создаёт пустой корневой Scope.
func NewScope() *Scope {
	return &Scope{vars: make(map[string]Value)}
}

// Derive создаёт дочерний слой.
func (s *Scope) Derive() *Scope {
	return &Scope{parent: s, vars: make(map[string]Value)}
}

// Parent возвращает родительский слой (nil для корня).
func (s *Scope) Parent() *Scope { return s.parent }

// Set связывает имя со значением в текущем слое.
func (s *Scope) Set(name string, v Value) {
	if _, ok := s.vars[name]; !ok {
		s.names = append(s.names, name)
	}
	s.vars[name] = v
}

// SetAll связывает все значения из map в текущем слое.
func (s *Scope) SetAll(values map[string]Value) {
	for _, k := range MapOf(values).Keys() {
		s.Set(k, values[k])
	}
}

// Lookup реализует Env: ищет имя от текущего слоя к корню.
func (s *Scope) Lookup(name string) (Value, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.vars[name]; ok {
			return v, true
		}
	}
	return Value{}, false
}

// Has сообщает, видно ли имя из этого слоя.
func (s *Scope) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Local возвращает имена текущего слоя в порядке связывания.
func (s *Scope) Local() []string {
	return append([]string(nil), s.names...)
}

// Names возвращает все видимые имена: сначала имена предков,
// затем новые имена потомков, в порядке связывания.
func (s *Scope) Names() []string {
	var chain []*Scope
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	seen := make(map[string]bool)
	var out []string
	for i := len(chain) - 1; i >= 0; i-- {
		for _, name := range chain[i].names {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

// Snapshot возвращает все видимые значения как mapping.
func (s *Scope) Snapshot() *Map {
	m := NewMap()
	for _, name := range s.Names() {
		v, _ := s.Lookup(name)
		m.Set(name, v)
	}
	return m
}
