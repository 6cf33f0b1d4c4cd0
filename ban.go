package proxvoice

import (
	"fmt"
	"net"
)

// addrHost strips the port from a network address so bans apply to
// the whole host rather than a single ephemeral UDP port.
func addrHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (db *DB) addBanItem(addr, name string) error {
	_, err := db.Exec(`INSERT INTO ban (addr, name) VALUES ($1, $2);`, addr, name)
	return err
}

func (db *DB) readBanItem(addr string) (string, error) {
	var name string
	err := db.QueryRow(`SELECT name FROM ban WHERE addr = $1;`, addr).Scan(&name)
	return name, err
}

func (db *DB) deleteBanItem(addr string) error {
	_, err := db.Exec(`DELETE FROM ban WHERE addr = $1;`, addr)
	return err
}

// IsBanned reports whether the host of addr is on the ban list.
func (db *DB) IsBanned(addr net.Addr) (bool, error) {
	rows, err := db.Query(`SELECT addr FROM ban WHERE addr = $1;`, addrHost(addr))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	return rows.Next(), rows.Err()
}

// Ban adds the host of the named participant's address to the ban
// list and disconnects them.
func (s *Server) Ban(name string) error {
	if s.db == nil {
		return fmt.Errorf("ban %s: no database", name)
	}

	var target *Participant
	for _, pt := range s.Participants() {
		e := s.world.Entity(pt.EntityID())
		if e != nil && e.Name() == name {
			target = pt
			break
		}
	}

	if target == nil {
		return fmt.Errorf("ban %s: no such participant", name)
	}

	if err := s.db.addBanItem(addrHost(target.peer.Addr()), name); err != nil {
		return fmt.Errorf("ban %s: %w", name, err)
	}

	s.tr.Disconnect(target.peer, "banned", true)
	return nil
}

// BanAddr adds a host to the ban list without requiring the target
// to be connected.
func (s *Server) BanAddr(addr, name string) error {
	if s.db == nil {
		return fmt.Errorf("ban %s: no database", addr)
	}
	return s.db.addBanItem(addr, name)
}

// Unban removes a ban list entry by host address or by the name it
// was recorded under.
func (s *Server) Unban(id string) error {
	if s.db == nil {
		return fmt.Errorf("unban %s: no database", id)
	}

	if err := s.db.deleteBanItem(id); err != nil {
		return err
	}

	rows, err := s.db.Query(`SELECT addr FROM ban WHERE name = $1;`, id)
	if err != nil {
		return err
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return err
		}
		addrs = append(addrs, addr)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, addr := range addrs {
		if err := s.db.deleteBanItem(addr); err != nil {
			return err
		}
	}
	return nil
}

// BanList returns the ban list as a host address to name map.
func (s *Server) BanList() (map[string]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("banlist: no database")
	}

	rows, err := s.db.Query(`SELECT addr, name FROM ban;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bans := make(map[string]string)
	for rows.Next() {
		var addr, name string
		if err := rows.Scan(&addr, &name); err != nil {
			return nil, err
		}
		bans[addr] = name
	}
	return bans, rows.Err()
}
