// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/fulfillment_locks" // 所有调度任务锁的根节点
)

// JobLock 是一个基于临时顺序节点的分布式锁。
// 调度器用它保证同名任务在多实例部署时同一时刻只有一个实例在跑。
type JobLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /fulfillment_locks/job-ingest
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewJobLock 创建一个新的任务锁实例
func NewJobLock(conn *Conn, jobName string) (*JobLock, error) {
	if err := ensurePath(conn, lockRoot); err != nil {
		return nil, err
	}
	lockPath := lockRoot + "/" + jobName
	if err := ensurePath(conn, lockPath); err != nil {
		return nil, err
	}
	return &JobLock{conn: conn, path: lockPath}, nil
}

func ensurePath(conn *Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("failed to check lock path %s: %w", path, err)
	}
	if exists {
		return nil
	}
	_, err = conn.Create(path, []byte(""), 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("failed to create lock path %s: %w", path, err)
	}
	return nil
}

// TryLock 非阻塞地尝试获取锁。
// 拿不到锁（别的实例正在跑同名任务）时立刻清理自己的节点并返回 false。
func (l *JobLock) TryLock() (bool, error) {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return false, fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	smallest, err := l.isSmallest()
	if err != nil {
		_ = l.Unlock()
		return false, err
	}
	if !smallest {
		_ = l.Unlock()
		return false, nil
	}
	return true, nil
}

// Lock 尝试获取锁，如果获取不到则阻塞等待前一个持有者释放
func (l *JobLock) Lock() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", []byte(""), zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}
	l.lockNode = nodePath

	for {
		children, _, err := l.conn.Children(l.path)
		if err != nil {
			return fmt.Errorf("failed to get children nodes: %w", err)
		}
		sort.Strings(children)

		myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
		if myNodeName == children[0] {
			// 是最小节点，成功获取锁
			return nil
		}

		// 不是最小节点，监听前一个节点
		prevNodeIndex := -1
		for i, child := range children {
			if child == myNodeName {
				prevNodeIndex = i - 1
				break
			}
		}
		if prevNodeIndex < 0 {
			return errors.New("cannot find previous node, something is wrong")
		}
		prevNodePath := l.path + "/" + children[prevNodeIndex]

		// 使用 ExistsW 来设置一次性的 Watcher
		_, _, eventChan, err := l.conn.ExistsW(prevNodePath)
		if err != nil {
			// 如果在检查时前一个节点刚好被删除了，就重试循环
			if err == zk.ErrNoNode {
				continue
			}
			return fmt.Errorf("failed to watch previous node: %w", err)
		}

		select {
		case event := <-eventChan:
			// 前一个节点被删除，重新进入循环去竞争锁
			if event.Type == zk.EventNodeDeleted {
				continue
			}
		case <-time.After(30 * time.Second): // 设置超时，防止死等
			return errors.New("timeout waiting for lock")
		}
	}
}

func (l *JobLock) isSmallest() (bool, error) {
	children, _, err := l.conn.Children(l.path)
	if err != nil {
		return false, fmt.Errorf("failed to get children nodes: %w", err)
	}
	sort.Strings(children)
	myNodeName := strings.TrimPrefix(l.lockNode, l.path+"/")
	return len(children) > 0 && myNodeName == children[0], nil
}

// Unlock 释放锁
func (l *JobLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	err := l.conn.Delete(l.lockNode, -1)
	if err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	return nil
}
