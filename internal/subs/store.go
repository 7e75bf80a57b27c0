package subs

import (
	"sync"

	"github.com/pvzzle/censorwatch/internal/mempool"

	"github.com/ethereum/go-ethereum/common"
)

// UserSubs are the censorship alerts a chat asked for.
type UserSubs struct {
	MinConfidence *float64
	Wallet        *common.Address
}

type Store struct {
	mu   sync.RWMutex
	data map[int64]*UserSubs
}

func NewStore() *Store {
	return &Store{data: make(map[int64]*UserSubs)}
}

func (s *Store) SetMinConfidence(chatID int64, minConf float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	u.MinConfidence = &minConf
}

func (s *Store) SetWallet(chatID int64, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.getOrCreate(chatID)
	u.Wallet = &addr
}

func (s *Store) ClearConfidence(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.data[chatID]
	if u == nil {
		return
	}
	u.MinConfidence = nil
	s.cleanupIfEmpty(chatID, u)
}

func (s *Store) ClearWallet(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.data[chatID]
	if u == nil {
		return
	}
	u.Wallet = nil
	s.cleanupIfEmpty(chatID, u)
}

func (s *Store) ClearAll(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, chatID)
}

// GetCopy возвращает копию подписок чата, чтобы снаружи не было гонок
func (s *Store) GetCopy(chatID int64) (UserSubs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u := s.data[chatID]
	if u == nil {
		return UserSubs{}, false
	}

	var out UserSubs
	if u.MinConfidence != nil {
		c := *u.MinConfidence
		out.MinConfidence = &c
	}
	if u.Wallet != nil {
		a := *u.Wallet
		out.Wallet = &a
	}
	return out, true
}

// MatchEvent returns the chats that should be alerted about ev.
func (s *Store) MatchEvent(ev mempool.CensorshipEvent) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []int64
	for chatID, u := range s.data {
		if u == nil {
			continue
		}

		// confidence threshold
		if u.MinConfidence != nil && ev.ConfidenceScore >= *u.MinConfidence {
			out = append(out, chatID)
			continue
		}

		// wallet
		if u.Wallet != nil {
			if ev.From == *u.Wallet {
				out = append(out, chatID)
				continue
			}
			if ev.To != nil && *ev.To == *u.Wallet {
				out = append(out, chatID)
				continue
			}
		}
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *Store) getOrCreate(chatID int64) *UserSubs {
	u := s.data[chatID]
	if u == nil {
		u = &UserSubs{}
		s.data[chatID] = u
	}
	return u
}

func (s *Store) cleanupIfEmpty(chatID int64, u *UserSubs) {
	if u == nil {
		return
	}
	if u.MinConfidence == nil && u.Wallet == nil {
		delete(s.data, chatID)
	}
}
