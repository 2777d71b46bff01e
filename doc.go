// Package groupcast implements the client session core for realtime
// peer-to-peer audio and data streaming groups.
//
// A Client connects to a rendezvous server, authenticates, joins and leaves
// named groups, resolves group members into network endpoints, exchanges
// out-of-band messages with peers, and surfaces asynchronous network events
// to the application. It owns no sockets and creates no threads: the
// application hands it received datagrams through HandleMessage and a send
// primitive through Send, and drives the pump either with the blocking Run
// loop or on its own schedule.
//
// Example:
//
//	client, err := groupcast.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client.SetEventHandler(func(ev event.Event) {
//	    switch e := ev.(type) {
//	    case event.PeerJoin:
//	        fmt.Printf("%s/%s joined at %s\n", e.GroupName, e.UserName, e.Addr)
//	    case event.PeerMessage:
//	        fmt.Printf("message from user %d: %s\n", e.UserID, e.Payload.Bytes)
//	    }
//	}, event.ModePoll)
//
//	client.Connect("server.example.com", 9999, "", nil, func(res request.Result) {
//	    if res.Err != nil {
//	        log.Fatal(res.Err)
//	    }
//	    client.JoinGroup("band", "", nil, "alice", "", nil, "", nil)
//	})
//
//	// Network thread: feed inbound datagrams and flush outbound ones.
//	go func() {
//	    buf := make([]byte, 4096)
//	    for {
//	        n, addr, err := conn.ReadFromUDPAddrPort(buf)
//	        if err != nil {
//	            return
//	        }
//	        client.HandleMessage(buf[:n], addr)
//	        client.Send(func(dest netip.AddrPort, data []byte) error {
//	            _, err := conn.WriteToUDPAddrPort(data, dest)
//	            return err
//	        })
//	    }
//	}()
//
//	// Application thread: drain events.
//	for {
//	    client.PollEvents()
//	    time.Sleep(10 * time.Millisecond)
//	}
package groupcast
