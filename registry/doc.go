// Package registry 维护在线坐席会话与房间成员关系。
//
// Registry 只由房间提供方的加入/离开回调写入，重复事件幂等；按房间加锁，
// 不同房间互不阻塞。Availability 组合注册表与转接编排器的 BusyChecker，
// 给出当前可接转接的坐席。
package registry
