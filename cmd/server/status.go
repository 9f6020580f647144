package main

import (
	"fmt"
	"net/rpc/jsonrpc"

	"github.com/spf13/cobra"

	"github.com/OmenMon/OmenMon-sub001/internal/ipc"
	rpcserver "github.com/OmenMon/OmenMon-sub001/internal/rpc"
	"github.com/OmenMon/OmenMon-sub001/internal/service"
)

type cmdStatus struct {
	global *cmdGlobal

	flagRemote bool
}

func (c *cmdStatus) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Open the driver bridge once and print its state",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	cmd.Flags().BoolVar(&c.flagRemote, "remote", false, "Query a running server over the named pipe instead")
	return cmd
}

func (c *cmdStatus) run(cmd *cobra.Command, args []string) error {
	var reply service.StatusReply

	if c.flagRemote {
		conn, err := ipc.Dial(c.global.cfg.IPC.PipeName)
		if err != nil {
			return fmt.Errorf("连接 %s 失败: %w", c.global.cfg.IPC.PipeName, err)
		}
		client := jsonrpc.NewClient(conn)
		defer client.Close()

		if err := client.Call(rpcserver.ServiceName+".Status", &service.StatusArgs{}, &reply); err != nil {
			return err
		}
	} else {
		bridge, regs := c.global.newBridge()
		bridge.Open()
		defer bridge.Close()

		svc := &service.Ring0Service{Bridge: bridge, Regs: regs}
		if err := svc.Status(&service.StatusArgs{}, &reply); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "open:           %t\n", reply.Open)
	fmt.Fprintf(out, "service:        %s\n", reply.ServiceName)
	if reply.Open {
		fmt.Fprintf(out, "driver version: 0x%08X\n", reply.DriverVersion)
		fmt.Fprintf(out, "ref count:      %d\n", reply.RefCount)
	}
	if reply.Diagnostics != "" {
		fmt.Fprintf(out, "diagnostics:\n%s\n", reply.Diagnostics)
	}
	return nil
}
