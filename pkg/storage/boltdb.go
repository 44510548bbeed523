package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/vapter/vapter/pkg/types"
)

var (
	// Bucket names
	bucketCustomers          = []byte("customers")
	bucketTargets            = []byte("targets")
	bucketPortLists          = []byte("port_lists")
	bucketScanTypes          = []byte("scan_types")
	bucketScans              = []byte("scans")
	bucketScanDetails        = []byte("scan_details")
	bucketFingerprintDetails = []byte("fingerprint_details")
	bucketVulnEngineResults  = []byte("vuln_engine_results")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vapter.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketCustomers,
			bucketTargets,
			bucketPortLists,
			bucketScanTypes,
			bucketScans,
			bucketScanDetails,
			bucketFingerprintDetails,
			bucketVulnEngineResults,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func putJSON(b *bolt.Bucket, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}
	return b.Put([]byte(id), data)
}

func now() time.Time {
	return time.Now().UTC()
}

// Customer operations

func (s *BoltStore) CreateCustomer(customer *types.Customer) error {
	if customer.ID == "" {
		return fmt.Errorf("customer id is required")
	}
	if err := customer.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		if taken, err := emailTaken(b, customer.Email, customer.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("customer email %s already in use: %w", customer.Email, ErrConflict)
		}
		customer.CreatedAt = now()
		customer.UpdatedAt = customer.CreatedAt
		return putJSON(b, customer.ID, customer)
	})
}

func emailTaken(b *bolt.Bucket, email, excludeID string) (bool, error) {
	taken := false
	err := b.ForEach(func(k, v []byte) error {
		var c types.Customer
		if err := json.Unmarshal(v, &c); err != nil {
			return err
		}
		if c.DeletedAt == nil && c.ID != excludeID && strings.EqualFold(c.Email, email) {
			taken = true
		}
		return nil
	})
	return taken, err
}

func (s *BoltStore) GetCustomer(id string) (*types.Customer, error) {
	var customer types.Customer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &customer); err != nil {
			return err
		}
		if customer.DeletedAt != nil {
			return fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (s *BoltStore) GetCustomerByEmail(email string) (*types.Customer, error) {
	var found *types.Customer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		return b.ForEach(func(k, v []byte) error {
			var c types.Customer
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.DeletedAt == nil && strings.EqualFold(c.Email, email) {
				found = &c
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("customer with email %s: %w", email, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListCustomers() ([]*types.Customer, error) {
	var customers []*types.Customer
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		return b.ForEach(func(k, v []byte) error {
			var c types.Customer
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.DeletedAt == nil {
				customers = append(customers, &c)
			}
			return nil
		})
	})
	return customers, err
}

func (s *BoltStore) UpdateCustomer(customer *types.Customer) error {
	if err := customer.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		if b.Get([]byte(customer.ID)) == nil {
			return fmt.Errorf("customer %s: %w", customer.ID, ErrNotFound)
		}
		if taken, err := emailTaken(b, customer.Email, customer.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("customer email %s already in use: %w", customer.Email, ErrConflict)
		}
		customer.UpdatedAt = now()
		return putJSON(b, customer.ID, customer)
	})
}

// DeleteCustomer soft-deletes the customer and everything it owns
func (s *BoltStore) DeleteCustomer(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCustomers)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		var customer types.Customer
		if err := json.Unmarshal(data, &customer); err != nil {
			return err
		}
		if customer.DeletedAt != nil {
			return fmt.Errorf("customer %s: %w", id, ErrNotFound)
		}
		ts := now()
		customer.DeletedAt = &ts
		customer.UpdatedAt = ts
		if err := putJSON(b, customer.ID, &customer); err != nil {
			return err
		}
		return deleteTargetsOfCustomer(tx, id, ts)
	})
}

func deleteTargetsOfCustomer(tx *bolt.Tx, customerID string, ts time.Time) error {
	b := tx.Bucket(bucketTargets)
	var targets []*types.Target
	err := b.ForEach(func(k, v []byte) error {
		var t types.Target
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.DeletedAt == nil && t.CustomerID == customerID {
			targets = append(targets, &t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, t := range targets {
		t.DeletedAt = &ts
		t.UpdatedAt = ts
		if err := putJSON(b, t.ID, t); err != nil {
			return err
		}
		if err := deleteScansOfTarget(tx, t.ID, ts); err != nil {
			return err
		}
	}
	return nil
}

// Target operations

func (s *BoltStore) CreateTarget(target *types.Target) error {
	if target.ID == "" {
		return fmt.Errorf("target id is required")
	}
	if err := target.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketCustomers).Get([]byte(target.CustomerID)) == nil {
			return fmt.Errorf("customer %s: %w", target.CustomerID, ErrNotFound)
		}
		b := tx.Bucket(bucketTargets)
		if taken, err := addressTaken(b, target.CustomerID, target.Address, target.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("target %s already exists for customer %s: %w",
				target.Address, target.CustomerID, ErrConflict)
		}
		target.CreatedAt = now()
		target.UpdatedAt = target.CreatedAt
		return putJSON(b, target.ID, target)
	})
}

func addressTaken(b *bolt.Bucket, customerID, address, excludeID string) (bool, error) {
	taken := false
	err := b.ForEach(func(k, v []byte) error {
		var t types.Target
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.DeletedAt == nil && t.ID != excludeID &&
			t.CustomerID == customerID && strings.EqualFold(t.Address, address) {
			taken = true
		}
		return nil
	})
	return taken, err
}

func (s *BoltStore) GetTarget(id string) (*types.Target, error) {
	var target types.Target
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &target); err != nil {
			return err
		}
		if target.DeletedAt != nil {
			return fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &target, nil
}

func (s *BoltStore) ListTargets() ([]*types.Target, error) {
	var targets []*types.Target
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		return b.ForEach(func(k, v []byte) error {
			var t types.Target
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.DeletedAt == nil {
				targets = append(targets, &t)
			}
			return nil
		})
	})
	return targets, err
}

func (s *BoltStore) ListTargetsByCustomer(customerID string) ([]*types.Target, error) {
	targets, err := s.ListTargets()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Target
	for _, t := range targets {
		if t.CustomerID == customerID {
			filtered = append(filtered, t)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateTarget(target *types.Target) error {
	if err := target.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		if b.Get([]byte(target.ID)) == nil {
			return fmt.Errorf("target %s: %w", target.ID, ErrNotFound)
		}
		if taken, err := addressTaken(b, target.CustomerID, target.Address, target.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("target %s already exists for customer %s: %w",
				target.Address, target.CustomerID, ErrConflict)
		}
		target.UpdatedAt = now()
		return putJSON(b, target.ID, target)
	})
}

// DeleteTarget soft-deletes the target and its scans
func (s *BoltStore) DeleteTarget(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTargets)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		var target types.Target
		if err := json.Unmarshal(data, &target); err != nil {
			return err
		}
		if target.DeletedAt != nil {
			return fmt.Errorf("target %s: %w", id, ErrNotFound)
		}
		ts := now()
		target.DeletedAt = &ts
		target.UpdatedAt = ts
		if err := putJSON(b, target.ID, &target); err != nil {
			return err
		}
		return deleteScansOfTarget(tx, id, ts)
	})
}

// PortList operations

func (s *BoltStore) CreatePortList(portList *types.PortList) error {
	if portList.ID == "" {
		return fmt.Errorf("port list id is required")
	}
	if err := portList.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPortLists)
		if taken, err := portListNameTaken(b, portList.Name, portList.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("port list %q already exists: %w", portList.Name, ErrConflict)
		}
		portList.CreatedAt = now()
		portList.UpdatedAt = portList.CreatedAt
		return putJSON(b, portList.ID, portList)
	})
}

func portListNameTaken(b *bolt.Bucket, name, excludeID string) (bool, error) {
	taken := false
	err := b.ForEach(func(k, v []byte) error {
		var pl types.PortList
		if err := json.Unmarshal(v, &pl); err != nil {
			return err
		}
		if pl.DeletedAt == nil && pl.ID != excludeID && strings.EqualFold(pl.Name, name) {
			taken = true
		}
		return nil
	})
	return taken, err
}

func (s *BoltStore) GetPortList(id string) (*types.PortList, error) {
	var portList types.PortList
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPortLists)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("port list %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &portList); err != nil {
			return err
		}
		if portList.DeletedAt != nil {
			return fmt.Errorf("port list %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &portList, nil
}

func (s *BoltStore) GetPortListByName(name string) (*types.PortList, error) {
	lists, err := s.ListPortLists()
	if err != nil {
		return nil, err
	}
	for _, pl := range lists {
		if strings.EqualFold(pl.Name, name) {
			return pl, nil
		}
	}
	return nil, fmt.Errorf("port list %q: %w", name, ErrNotFound)
}

func (s *BoltStore) ListPortLists() ([]*types.PortList, error) {
	var lists []*types.PortList
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPortLists)
		return b.ForEach(func(k, v []byte) error {
			var pl types.PortList
			if err := json.Unmarshal(v, &pl); err != nil {
				return err
			}
			if pl.DeletedAt == nil {
				lists = append(lists, &pl)
			}
			return nil
		})
	})
	return lists, err
}

func (s *BoltStore) UpdatePortList(portList *types.PortList) error {
	if err := portList.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPortLists)
		if b.Get([]byte(portList.ID)) == nil {
			return fmt.Errorf("port list %s: %w", portList.ID, ErrNotFound)
		}
		if taken, err := portListNameTaken(b, portList.Name, portList.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("port list %q already exists: %w", portList.Name, ErrConflict)
		}
		portList.UpdatedAt = now()
		return putJSON(b, portList.ID, portList)
	})
}

func (s *BoltStore) DeletePortList(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPortLists)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("port list %s: %w", id, ErrNotFound)
		}
		var portList types.PortList
		if err := json.Unmarshal(data, &portList); err != nil {
			return err
		}
		if portList.DeletedAt != nil {
			return fmt.Errorf("port list %s: %w", id, ErrNotFound)
		}
		ts := now()
		portList.DeletedAt = &ts
		portList.UpdatedAt = ts
		return putJSON(b, portList.ID, &portList)
	})
}

// ScanType operations

func (s *BoltStore) CreateScanType(scanType *types.ScanType) error {
	if scanType.ID == "" {
		return fmt.Errorf("scan type id is required")
	}
	if err := scanType.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if scanType.PortListID != "" {
			if tx.Bucket(bucketPortLists).Get([]byte(scanType.PortListID)) == nil {
				return fmt.Errorf("port list %s: %w", scanType.PortListID, ErrNotFound)
			}
		}
		b := tx.Bucket(bucketScanTypes)
		if taken, err := scanTypeNameTaken(b, scanType.Name, scanType.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("scan type %q already exists: %w", scanType.Name, ErrConflict)
		}
		scanType.CreatedAt = now()
		scanType.UpdatedAt = scanType.CreatedAt
		return putJSON(b, scanType.ID, scanType)
	})
}

func scanTypeNameTaken(b *bolt.Bucket, name, excludeID string) (bool, error) {
	taken := false
	err := b.ForEach(func(k, v []byte) error {
		var st types.ScanType
		if err := json.Unmarshal(v, &st); err != nil {
			return err
		}
		if st.DeletedAt == nil && st.ID != excludeID && strings.EqualFold(st.Name, name) {
			taken = true
		}
		return nil
	})
	return taken, err
}

func (s *BoltStore) GetScanType(id string) (*types.ScanType, error) {
	var scanType types.ScanType
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanTypes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan type %s: %w", id, ErrNotFound)
		}
		if err := json.Unmarshal(data, &scanType); err != nil {
			return err
		}
		if scanType.DeletedAt != nil {
			return fmt.Errorf("scan type %s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &scanType, nil
}

func (s *BoltStore) GetScanTypeByName(name string) (*types.ScanType, error) {
	scanTypes, err := s.ListScanTypes()
	if err != nil {
		return nil, err
	}
	for _, st := range scanTypes {
		if strings.EqualFold(st.Name, name) {
			return st, nil
		}
	}
	return nil, fmt.Errorf("scan type %q: %w", name, ErrNotFound)
}

func (s *BoltStore) ListScanTypes() ([]*types.ScanType, error) {
	var scanTypes []*types.ScanType
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanTypes)
		return b.ForEach(func(k, v []byte) error {
			var st types.ScanType
			if err := json.Unmarshal(v, &st); err != nil {
				return err
			}
			if st.DeletedAt == nil {
				scanTypes = append(scanTypes, &st)
			}
			return nil
		})
	})
	return scanTypes, err
}

func (s *BoltStore) UpdateScanType(scanType *types.ScanType) error {
	if err := scanType.Validate(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanTypes)
		if b.Get([]byte(scanType.ID)) == nil {
			return fmt.Errorf("scan type %s: %w", scanType.ID, ErrNotFound)
		}
		if taken, err := scanTypeNameTaken(b, scanType.Name, scanType.ID); err != nil {
			return err
		} else if taken {
			return fmt.Errorf("scan type %q already exists: %w", scanType.Name, ErrConflict)
		}
		scanType.UpdatedAt = now()
		return putJSON(b, scanType.ID, scanType)
	})
}

func (s *BoltStore) DeleteScanType(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScanTypes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("scan type %s: %w", id, ErrNotFound)
		}
		var scanType types.ScanType
		if err := json.Unmarshal(data, &scanType); err != nil {
			return err
		}
		if scanType.DeletedAt != nil {
			return fmt.Errorf("scan type %s: %w", id, ErrNotFound)
		}
		ts := now()
		scanType.DeletedAt = &ts
		scanType.UpdatedAt = ts
		return putJSON(b, scanType.ID, &scanType)
	})
}
